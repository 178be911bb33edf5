// Package auth signs and verifies session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload shared by access and refresh tokens. UserID is
// a pointer so a payload without the claim can be told apart from user 0.
type Claims struct {
	jwt.RegisteredClaims
	UserID *int64 `json:"userId,omitempty"`
}

// TokenCodec issues and verifies HS256 tokens. Access and refresh tokens
// use different secrets, so one can never be replayed as the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	now           func() time.Time
}

type Option func(*TokenCodec)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) {
		c.now = now
	}
}

func NewTokenCodec(accessSecret, refreshSecret string, accessTTL time.Duration, opts ...Option) *TokenCodec {
	c := &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AccessTTL is the lifetime of access tokens, reused as the cookie max-age.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

func (c *TokenCodec) sign(claims Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (c *TokenCodec) claims(userID int64) Claims {
	id := userID
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
		UserID: &id,
	}
}

// IssueAccessToken returns a token for userID that expires after the
// configured access TTL.
func (c *TokenCodec) IssueAccessToken(userID int64) (string, error) {
	claims := c.claims(userID)
	claims.ExpiresAt = jwt.NewNumericDate(c.now().Add(c.accessTTL))
	return c.sign(claims, c.accessSecret)
}

// IssueRefreshToken returns a token for userID without an exp claim; its
// lifetime is bounded by the session cache TTL instead.
func (c *TokenCodec) IssueRefreshToken(userID int64) (string, error) {
	return c.sign(c.claims(userID), c.refreshSecret)
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}
}

func (c *TokenCodec) parse(token string, secret []byte, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc(secret), opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAccessToken checks signature and expiry. found is false, with a nil
// error, when the token is valid but carries no user id. An expired token
// yields common.ErrTokenExpired; anything else wrong with it yields
// common.ErrTokenVerification.
func (c *TokenCodec) VerifyAccessToken(token string) (userID int64, found bool, err error) {
	claims, err := c.parse(token, c.accessSecret, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, false, fmt.Errorf("%w: %v", common.ErrTokenExpired, err)
		}
		return 0, false, fmt.Errorf("%w: %v", common.ErrTokenVerification, err)
	}
	if claims.UserID == nil {
		return 0, false, nil
	}
	return *claims.UserID, true, nil
}

// VerifyRefreshToken returns the user id bound into a refresh token. Every
// failure is reported as common.ErrInvalidRefreshToken.
func (c *TokenCodec) VerifyRefreshToken(token string) (int64, error) {
	claims, err := c.parse(token, c.refreshSecret)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrInvalidRefreshToken, err)
	}
	if claims.UserID == nil {
		return 0, common.ErrInvalidRefreshToken
	}
	return *claims.UserID, nil
}
