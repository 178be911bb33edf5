// Package sessioncache keeps refresh tokens and user snapshots in Redis.
//
// Keys:
//
//	refresh_token:<token>   -> owner user id           (TTL)
//	refresh_tokens:<userID> -> set of live tokens       (TTL renewed on add)
//	user:<userID>           -> JSON user snapshot        (TTL)
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/userhub/internal/server/models"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 7 * 24 * time.Hour

func RefreshTokenKey(token string) string { return "refresh_token:" + token }

func UserTokensKey(userID int64) string { return "refresh_tokens:" + strconv.FormatInt(userID, 10) }

func UserKey(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) }

// Cache is safe for concurrent use; all state lives in Redis.
type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func New(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// NewClient returns a Redis client with bounded dial, read and write timeouts.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// TTL is the lifetime of refresh tokens and snapshots.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// StartSession registers refreshToken for user and stores the user snapshot
// in one MULTI/EXEC transaction.
func (c *Cache) StartSession(ctx context.Context, user *models.User, refreshToken string) error {
	snapshot, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, RefreshTokenKey(refreshToken), user.ID, c.ttl)
		p.SAdd(ctx, UserTokensKey(user.ID), refreshToken)
		p.Expire(ctx, UserTokensKey(user.ID), c.ttl)
		p.Set(ctx, UserKey(user.ID), snapshot, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// RefreshTokenOwner returns the user id bound to a live refresh token.
// found is false when the key is missing or expired.
func (c *Cache) RefreshTokenOwner(ctx context.Context, token string) (userID int64, found bool, err error) {
	v, err := c.rdb.Get(ctx, RefreshTokenKey(token)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get refresh token: %w", err)
	}
	return v, true, nil
}

// RevokeRefreshToken deletes one refresh token and removes it from its
// owner's set. Missing keys are not an error.
func (c *Cache) RevokeRefreshToken(ctx context.Context, userID int64, token string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, RefreshTokenKey(token))
		p.SRem(ctx, UserTokensKey(userID), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll deletes every refresh token of userID, the token set and the
// user snapshot. The deletes run as one MULTI/EXEC batch.
func (c *Cache) RevokeAll(ctx context.Context, userID int64) error {
	tokens, err := c.rdb.SMembers(ctx, UserTokensKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list refresh tokens: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range tokens {
			p.Del(ctx, RefreshTokenKey(t))
		}
		p.Del(ctx, UserTokensKey(userID))
		p.Del(ctx, UserKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// SnapshotExists reports whether user:<userID> is live.
func (c *Cache) SnapshotExists(ctx context.Context, userID int64) (bool, error) {
	n, err := c.rdb.Exists(ctx, UserKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("exists snapshot: %w", err)
	}
	return n > 0, nil
}
