package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/userhub/internal/server/models"
	"github.com/dmitrijs2005/userhub/internal/server/services"
	"github.com/go-playground/validator/v10"
)

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

type registerInput struct {
	FirstName string `json:"firstName" validate:"required,min=1"`
	LastName  string `json:"lastName" validate:"required,min=1"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6,maxbytes=72"`
}

type createUserInput struct {
	FirstName string `json:"firstName" validate:"required,min=1"`
	LastName  string `json:"lastName" validate:"required,min=1"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6,maxbytes=72"`
	Role      string `json:"role" validate:"omitempty,oneof=admin manager user"`
}

type updateUserInput struct {
	ID        int64   `json:"id" validate:"required,gt=0"`
	FirstName *string `json:"firstName" validate:"omitempty,min=1"`
	LastName  *string `json:"lastName" validate:"omitempty,min=1"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  *string `json:"password" validate:"omitempty,min=6,maxbytes=72"`
	Role      *string `json:"role" validate:"omitempty,oneof=admin manager user"`
}

// MessageOutput is the {message} result of login, register and users.create.
type MessageOutput struct {
	Message string `json:"message"`
}

// RowsAffectedOutput is the result of users.update and users.remove.
type RowsAffectedOutput struct {
	RowsAffected int64 `json:"rowsAffected"`
}

func (r *Router) register() {
	// bcrypt rejects passwords over 72 bytes; max= counts runes.
	_ = r.validate.RegisterValidation("maxbytes", maxBytes)
	r.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	r.add("auth.login", Mutation, public, r.login)
	r.add("auth.logout", Mutation, public, r.logout)
	r.add("auth.logoutAllSessions", Mutation, Access{Authenticated: true}, r.logoutAllSessions)
	r.add("auth.register", Mutation, public, r.registerUser)
	r.add("auth.refreshAccessToken", Mutation, public, r.refreshAccessToken)
	r.add("auth.permissions", Query, Access{Authenticated: true}, r.permissions)

	r.add("users.list", Query, requires(services.PermRead), r.listUsers)
	r.add("users.getById", Query, requires(services.PermRead), r.getUser)
	r.add("users.create", Mutation, requires(services.PermCreate), r.createUser)
	r.add("users.update", Mutation, requires(services.PermUpdate), r.updateUser)
	r.add("users.remove", Mutation, requires(services.PermDelete), r.removeUser)
}

func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

func isEmpty(input json.RawMessage) bool {
	trimmed := bytes.TrimSpace(input)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeObject strictly decodes input into dst and validates it.
func (r *Router) decodeObject(input json.RawMessage, dst any) error {
	if isEmpty(input) {
		return badRequest("input is required", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid input: "+err.Error(), err)
	}
	if err := r.validate.Struct(dst); err != nil {
		return badRequest(validationMessage(err), err)
	}
	return nil
}

// decodeID decodes a positive integer input.
func (r *Router) decodeID(input json.RawMessage) (int64, error) {
	if isEmpty(input) {
		return 0, badRequest("input is required", nil)
	}
	var id int64
	if err := json.Unmarshal(input, &id); err != nil {
		return 0, badRequest("input must be an integer", err)
	}
	if err := r.validate.Var(id, "gt=0"); err != nil {
		return 0, badRequest("input must be greater than 0", err)
	}
	return id, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (r *Router) login(ctx context.Context, rc *services.RequestContext, input json.RawMessage) (any, error) {
	var in loginInput
	if err := r.decodeObject(input, &in); err != nil {
		return nil, err
	}
	msg, err := r.session.Login(ctx, rc, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	return MessageOutput{Message: msg}, nil
}

func (r *Router) logout(ctx context.Context, rc *services.RequestContext, _ json.RawMessage) (any, error) {
	return nil, r.session.Logout(ctx, rc)
}

func (r *Router) logoutAllSessions(ctx context.Context, rc *services.RequestContext, _ json.RawMessage) (any, error) {
	return nil, r.session.LogoutAllSessions(ctx, rc)
}

func (r *Router) registerUser(ctx context.Context, _ *services.RequestContext, input json.RawMessage) (any, error) {
	var in registerInput
	if err := r.decodeObject(input, &in); err != nil {
		return nil, err
	}
	msg, err := r.session.Register(ctx, in.FirstName, in.LastName, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	return MessageOutput{Message: msg}, nil
}

func (r *Router) refreshAccessToken(ctx context.Context, rc *services.RequestContext, input json.RawMessage) (any, error) {
	var token string
	if !isEmpty(input) {
		if err := json.Unmarshal(input, &token); err != nil {
			return nil, badRequest("input must be a string", err)
		}
	}
	return r.session.RefreshAccessToken(ctx, rc, token)
}

func (r *Router) permissions(_ context.Context, rc *services.RequestContext, _ json.RawMessage) (any, error) {
	return r.session.Permissions(rc)
}

func (r *Router) listUsers(ctx context.Context, _ *services.RequestContext, _ json.RawMessage) (any, error) {
	return r.users.List(ctx)
}

func (r *Router) getUser(ctx context.Context, _ *services.RequestContext, input json.RawMessage) (any, error) {
	id, err := r.decodeID(input)
	if err != nil {
		return nil, err
	}
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	return u, nil
}

func (r *Router) createUser(ctx context.Context, _ *services.RequestContext, input json.RawMessage) (any, error) {
	var in createUserInput
	if err := r.decodeObject(input, &in); err != nil {
		return nil, err
	}
	msg, err := r.users.Create(ctx, services.NewUser{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Password:  in.Password,
		Role:      models.Role(in.Role),
	})
	if err != nil {
		return nil, err
	}
	return MessageOutput{Message: msg}, nil
}

func (r *Router) updateUser(ctx context.Context, _ *services.RequestContext, input json.RawMessage) (any, error) {
	var in updateUserInput
	if err := r.decodeObject(input, &in); err != nil {
		return nil, err
	}

	changes := services.UserChanges{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Password:  in.Password,
	}
	if in.Role != nil {
		role := models.Role(*in.Role)
		changes.Role = &role
	}

	n, err := r.users.Update(ctx, in.ID, changes)
	if err != nil {
		return nil, err
	}
	return RowsAffectedOutput{RowsAffected: n}, nil
}

func (r *Router) removeUser(ctx context.Context, _ *services.RequestContext, input json.RawMessage) (any, error) {
	id, err := r.decodeID(input)
	if err != nil {
		return nil, err
	}
	n, err := r.users.Remove(ctx, id)
	if err != nil {
		return nil, err
	}
	return RowsAffectedOutput{RowsAffected: n}, nil
}
