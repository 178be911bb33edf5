package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/models"
	"github.com/dmitrijs2005/userhub/internal/server/repositories/repomanager"
)

const MsgUserCreated = "User created successfully"

// NewUser is the input of UserService.Create. An empty Role means "user".
type NewUser struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      models.Role
}

// UserChanges is the input of UserService.Update. Nil fields are kept.
type UserChanges struct {
	FirstName *string
	LastName  *string
	Email     *string
	Password  *string
	Role      *models.Role
}

// SessionRevoker drops all sessions of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64) error
}

// UserService is CRUD over the credential store. Passwords are accepted in
// plain text and hashed here; hashes never leave the service.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      PasswordHasher
	sessions    SessionRevoker
	timeout     time.Duration
	log         logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, hasher PasswordHasher,
	sessions SessionRevoker, timeout time.Duration, log logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		sessions:    sessions,
		timeout:     timeout,
		log:         log,
	}
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetByID returns the user, or nil without error when no row has the id.
func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	u, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserService) Create(ctx context.Context, in NewUser) (string, error) {
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if !in.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", common.ErrorValidation, in.Role)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.repomanager.Users(s.db).Create(ctx, &models.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		if errors.Is(err, common.ErrEmailAlreadyExists) {
			return "", err
		}
		return "", fmt.Errorf("create user: %w", err)
	}
	return MsgUserCreated, nil
}

// Update applies a partial update and returns the number of rows changed.
func (s *UserService) Update(ctx context.Context, id int64, in UserChanges) (int64, error) {
	upd := models.UserUpdate{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Role:      in.Role,
	}
	if in.Role != nil && !in.Role.Valid() {
		return 0, fmt.Errorf("%w: unknown role %q", common.ErrorValidation, *in.Role)
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return 0, fmt.Errorf("update user: %w", err)
		}
		upd.PasswordHash = &hash
	}
	if upd.Empty() {
		return 0, fmt.Errorf("%w: nothing to update", common.ErrorValidation)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.repomanager.Users(s.db).Update(ctx, id, upd)
	if err != nil {
		if errors.Is(err, common.ErrEmailAlreadyExists) {
			return 0, err
		}
		return 0, fmt.Errorf("update user: %w", err)
	}
	return n, nil
}

// Remove deletes the user and, when a row was deleted, revokes its
// sessions. A revoke failure is logged, not returned: the row is gone and
// the request context builder already treats such sessions as anonymous.
func (s *UserService) Remove(ctx context.Context, id int64) (int64, error) {
	opCtx, cancel := withTimeout(ctx, s.timeout)
	n, err := s.repomanager.Users(s.db).Delete(opCtx, id)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("remove user: %w", err)
	}

	if n > 0 && s.sessions != nil {
		opCtx, cancel := withTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.sessions.RevokeAll(opCtx, id); err != nil {
			s.log.Warn(ctx, "revoke sessions of removed user", "user_id", id, "error", err)
		}
	}
	return n, nil
}

// SeedAdmin inserts an admin account unless the email is already taken.
// It reports whether a row was created.
func (s *UserService) SeedAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}

	opCtx, cancel := withTimeout(ctx, s.timeout)
	_, err := s.repomanager.Users(s.db).GetByEmail(opCtx, email)
	cancel()
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, common.ErrorNotFound):
		return false, fmt.Errorf("seed admin: %w", err)
	}

	_, err = s.Create(ctx, NewUser{
		FirstName: "Admin",
		LastName:  "User",
		Email:     email,
		Password:  password,
		Role:      models.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, common.ErrEmailAlreadyExists) {
			return false, nil
		}
		return false, err
	}

	s.log.Info(ctx, "admin user seeded", "email", email)
	return true, nil
}
