package rpc

import (
	"errors"

	"github.com/dmitrijs2005/userhub/internal/common"
)

// Code is the transport-neutral error code of a failed procedure call.
type Code string

const (
	CodeBadRequest     Code = "BAD_REQUEST"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeInternal       Code = "INTERNAL_SERVER_ERROR"
	CodeOK             Code = "OK"
	internalErrMessage      = "Internal server error"
)

// Error is what a transport renders for a failed call. Err keeps the
// underlying cause for logging; it is never sent to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func badRequest(msg string, err error) *Error {
	return &Error{Code: CodeBadRequest, Message: msg, Err: err}
}

// Classify maps any error to an *Error. Known sentinels keep their own
// message; everything else becomes an opaque internal error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	for _, m := range []struct {
		sentinel error
		code     Code
	}{
		{common.ErrorValidation, CodeBadRequest},
		{common.ErrInvalidCredentials, CodeUnauthorized},
		{common.ErrInvalidRefreshToken, CodeUnauthorized},
		{common.ErrTokenVerification, CodeUnauthorized},
		{common.ErrTokenExpired, CodeUnauthorized},
		{common.ErrorUnauthorized, CodeUnauthorized},
		{common.ErrorForbidden, CodeForbidden},
		{common.ErrEmailAlreadyExists, CodeConflict},
		{common.ErrorNotFound, CodeNotFound},
	} {
		if errors.Is(err, m.sentinel) {
			msg := m.sentinel.Error()
			if m.code == CodeBadRequest {
				msg = err.Error()
			}
			return &Error{Code: m.code, Message: msg, Err: err}
		}
	}

	return &Error{Code: CodeInternal, Message: internalErrMessage, Err: err}
}
