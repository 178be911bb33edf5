package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/userhub/internal/server/models"
)

// SessionCache is the subset of sessioncache.Cache used by the services.
type SessionCache interface {
	StartSession(ctx context.Context, user *models.User, refreshToken string) error
	RefreshTokenOwner(ctx context.Context, token string) (int64, bool, error)
	RevokeRefreshToken(ctx context.Context, userID int64, token string) error
	RevokeAll(ctx context.Context, userID int64) error
	SnapshotExists(ctx context.Context, userID int64) (bool, error)
	TTL() time.Duration
}

// TokenCodec is implemented by auth.TokenCodec.
type TokenCodec interface {
	IssueAccessToken(userID int64) (string, error)
	IssueRefreshToken(userID int64) (string, error)
	VerifyAccessToken(token string) (int64, bool, error)
	VerifyRefreshToken(token string) (int64, error)
	AccessTTL() time.Duration
}

// PasswordHasher is implemented by auth.PasswordHasher.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
	CompareDummy(password string)
}

// withTimeout bounds a single store or cache call. A non-positive d leaves
// ctx untouched.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
