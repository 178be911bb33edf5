package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/server/models"
)

// CookieJar abstracts the transport's cookie access: reading what the
// client sent and queueing Set-Cookie headers on the response.
type CookieJar interface {
	Cookie(name string) (string, bool)
	SetCookie(c *http.Cookie)
}

// RequestContext is the per-request identity. User is nil for anonymous
// callers.
type RequestContext struct {
	Jar  CookieJar
	User *models.User
}

func (r *RequestContext) Authenticated() bool {
	return r != nil && r.User != nil
}

// MemoryJar is a CookieJar backed by maps, used by tests and by callers
// that carry cookies outside HTTP.
type MemoryJar struct {
	mu  sync.Mutex
	in  map[string]string
	out []*http.Cookie
}

func NewMemoryJar(in map[string]string) *MemoryJar {
	if in == nil {
		in = map[string]string{}
	}
	return &MemoryJar{in: in}
}

func (j *MemoryJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.in[name]
	return v, ok
}

func (j *MemoryJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.out = append(j.out, c)
}

// Written returns the cookies set so far, in order.
func (j *MemoryJar) Written() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*http.Cookie(nil), j.out...)
}

// Last returns the most recently set cookie with the given name.
func (j *MemoryJar) Last(name string) *http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.out) - 1; i >= 0; i-- {
		if j.out[i].Name == name {
			return j.out[i]
		}
	}
	return nil
}

// cookieFactory builds the session cookie triple with shared attributes.
type cookieFactory struct {
	secure        bool
	accessMaxAge  time.Duration
	refreshMaxAge time.Duration
}

func (f cookieFactory) build(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (f cookieFactory) access(token string) *http.Cookie {
	return f.build(common.AccessTokenCookieName, token, f.accessMaxAge)
}

func (f cookieFactory) refresh(token string) *http.Cookie {
	return f.build(common.RefreshTokenCookieName, token, f.refreshMaxAge)
}

func (f cookieFactory) loggedIn(v bool) *http.Cookie {
	value := "false"
	if v {
		value = "true"
	}
	return f.build(common.LoggedInCookieName, value, f.accessMaxAge)
}

func (f cookieFactory) setSession(jar CookieJar, access, refresh string) {
	jar.SetCookie(f.access(access))
	jar.SetCookie(f.refresh(refresh))
	jar.SetCookie(f.loggedIn(true))
}

// clear overwrites the triple with empty values and loggedIn=false,
// keeping the same attributes.
func (f cookieFactory) clear(jar CookieJar) {
	jar.SetCookie(f.access(""))
	jar.SetCookie(f.refresh(""))
	jar.SetCookie(f.loggedIn(false))
}
