// Package common defines shared constants and sentinel errors used across
// the server layers of userhub. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrorValidation   = errors.New("validation error")

	// Authentication errors.
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailAlreadyExists  = errors.New("user with this email already exists")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Token errors. ErrTokenVerification covers malformed and forged tokens,
	// ErrTokenExpired a token whose signature is fine but whose exp has passed.
	ErrTokenVerification = errors.New("token verification failed")
	ErrTokenExpired      = errors.New("token expired")
)
