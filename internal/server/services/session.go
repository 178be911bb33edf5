package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/dbx"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/config"
	"github.com/dmitrijs2005/userhub/internal/server/models"
	"github.com/dmitrijs2005/userhub/internal/server/repositories/repomanager"
)

const (
	MsgLoginSuccessful        = "Login successful"
	MsgRegistrationSuccessful = "Registration successful"
)

// SessionService implements the cookie session lifecycle:
//   - Login / Register
//   - Logout (one session) and LogoutAllSessions
//   - RefreshAccessToken
//   - Permissions of the current user
//
// Refresh tokens live in the session cache; the access token is stateless.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cache       SessionCache
	tokens      TokenCodec
	hasher      PasswordHasher
	cookies     cookieFactory
	timeout     time.Duration
	log         logging.Logger
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, cache SessionCache,
	tokens TokenCodec, hasher PasswordHasher, cfg *config.Config, log logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		cache:       cache,
		tokens:      tokens,
		hasher:      hasher,
		cookies: cookieFactory{
			secure:        cfg.SecureCookies(),
			accessMaxAge:  tokens.AccessTTL(),
			refreshMaxAge: cache.TTL(),
		},
		timeout: cfg.OperationTimeout,
		log:     log,
	}
}

// Login checks the credentials, registers a new refresh token and sets the
// session cookies. Unknown email and wrong password are indistinguishable.
func (s *SessionService) Login(ctx context.Context, rc *RequestContext, email, password string) (string, error) {
	opCtx, cancel := withTimeout(ctx, s.timeout)
	user, err := s.repomanager.Users(s.db).GetByEmail(opCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.CompareDummy(password)
			return "", common.ErrInvalidCredentials
		}
		return "", fmt.Errorf("login: %w", err)
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		return "", common.ErrInvalidCredentials
	}

	access, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	opCtx, cancel = withTimeout(ctx, s.timeout)
	err = s.cache.StartSession(opCtx, user, refresh)
	cancel()
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	s.cookies.setSession(rc.Jar, access, refresh)
	s.log.Info(ctx, "user logged in", "user_id", user.ID)

	return MsgLoginSuccessful, nil
}

// Logout revokes the refresh token from the cookie, if any, and clears the
// session cookies. Cookies are cleared even when the cache call fails; the
// cache error is returned afterwards.
func (s *SessionService) Logout(ctx context.Context, rc *RequestContext) error {
	var cacheErr error

	if token, ok := rc.Jar.Cookie(common.RefreshTokenCookieName); ok && token != "" {
		cacheErr = s.revoke(ctx, rc, token)
	}

	s.cookies.clear(rc.Jar)

	if cacheErr != nil {
		return fmt.Errorf("logout: %w", cacheErr)
	}
	return nil
}

func (s *SessionService) revoke(ctx context.Context, rc *RequestContext, token string) error {
	opCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	owner, found, err := s.cache.RefreshTokenOwner(opCtx, token)
	if err != nil {
		return err
	}
	if !found {
		if !rc.Authenticated() {
			return nil
		}
		owner = rc.User.ID
	}

	return s.cache.RevokeRefreshToken(opCtx, owner, token)
}

// LogoutAllSessions revokes every refresh token of the current user and
// drops the user snapshot, which also invalidates outstanding access tokens.
func (s *SessionService) LogoutAllSessions(ctx context.Context, rc *RequestContext) error {
	if !rc.Authenticated() {
		return common.ErrorUnauthorized
	}

	opCtx, cancel := withTimeout(ctx, s.timeout)
	err := s.cache.RevokeAll(opCtx, rc.User.ID)
	cancel()

	s.cookies.clear(rc.Jar)

	if err != nil {
		return fmt.Errorf("logout all sessions: %w", err)
	}
	s.log.Info(ctx, "all sessions revoked", "user_id", rc.User.ID)
	return nil
}

// RefreshAccessToken mints a new access token from a live refresh token.
// An empty token falls back to the refreshToken cookie. The refresh token
// itself is not rotated.
func (s *SessionService) RefreshAccessToken(ctx context.Context, rc *RequestContext, token string) (string, error) {
	if token == "" {
		token, _ = rc.Jar.Cookie(common.RefreshTokenCookieName)
	}
	if token == "" {
		return "", common.ErrInvalidRefreshToken
	}

	opCtx, cancel := withTimeout(ctx, s.timeout)
	owner, found, err := s.cache.RefreshTokenOwner(opCtx, token)
	cancel()
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	if !found {
		return "", common.ErrInvalidRefreshToken
	}

	boundID, err := s.tokens.VerifyRefreshToken(token)
	if err != nil {
		return "", err
	}
	if boundID != owner {
		return "", common.ErrInvalidRefreshToken
	}
	if rc.Authenticated() && rc.User.ID != boundID {
		return "", common.ErrInvalidRefreshToken
	}

	access, err := s.tokens.IssueAccessToken(boundID)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}

	rc.Jar.SetCookie(s.cookies.access(access))
	rc.Jar.SetCookie(s.cookies.loggedIn(true))

	return access, nil
}

// Register creates a user with role "user". The email check and the insert
// share one transaction.
func (s *SessionService) Register(ctx context.Context, firstName, lastName, email, password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}

	opCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	created, err := dbx.WithTxResult(opCtx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.User, error) {
		repo := s.repomanager.Users(tx)

		_, err := repo.GetByEmail(ctx, email)
		switch {
		case err == nil:
			return nil, common.ErrEmailAlreadyExists
		case !errors.Is(err, common.ErrorNotFound):
			return nil, err
		}

		return repo.Create(ctx, &models.User{
			FirstName:    firstName,
			LastName:     lastName,
			Email:        email,
			PasswordHash: hash,
			Role:         models.RoleUser,
		})
	})
	if err != nil {
		if errors.Is(err, common.ErrEmailAlreadyExists) {
			return "", common.ErrEmailAlreadyExists
		}
		return "", fmt.Errorf("register: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", created.ID)
	return MsgRegistrationSuccessful, nil
}

// Permissions returns the permission list of the current user's role.
func (s *SessionService) Permissions(rc *RequestContext) ([]string, error) {
	if !rc.Authenticated() {
		return nil, common.ErrorUnauthorized
	}
	return PermissionsFor(rc.User.Role), nil
}
