package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/repositories/repomanager"
)

// ContextBuilder resolves the caller of a request from its cookies.
type ContextBuilder struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cache       SessionCache
	tokens      TokenCodec
	timeout     time.Duration
	log         logging.Logger
}

func NewContextBuilder(db *sql.DB, m repomanager.RepositoryManager, cache SessionCache,
	tokens TokenCodec, timeout time.Duration, log logging.Logger) *ContextBuilder {
	return &ContextBuilder{
		db:          db,
		repomanager: m,
		cache:       cache,
		tokens:      tokens,
		timeout:     timeout,
		log:         log,
	}
}

// Build returns the RequestContext for jar. The caller is anonymous when
// there is no access token, when it has expired or carries no user id,
// when the user snapshot is gone from the cache (revoked) or when the user
// row no longer exists. A forged or malformed token fails the request with
// common.ErrTokenVerification.
func (b *ContextBuilder) Build(ctx context.Context, jar CookieJar) (*RequestContext, error) {
	rc := &RequestContext{Jar: jar}

	token, ok := jar.Cookie(common.AccessTokenCookieName)
	if !ok || token == "" {
		return rc, nil
	}

	userID, found, err := b.tokens.VerifyAccessToken(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return rc, nil
		}
		return nil, err
	}
	if !found {
		return rc, nil
	}

	opCtx, cancel := withTimeout(ctx, b.timeout)
	live, err := b.cache.SnapshotExists(opCtx, userID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if !live {
		b.log.Debug(ctx, "access token without live session", "user_id", userID)
		return rc, nil
	}

	opCtx, cancel = withTimeout(ctx, b.timeout)
	user, err := b.repomanager.Users(b.db).GetByID(opCtx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return rc, nil
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	rc.User = user
	return rc, nil
}
