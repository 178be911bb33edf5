package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/dbx"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/auth"
	"github.com/dmitrijs2005/userhub/internal/server/config"
	"github.com/dmitrijs2005/userhub/internal/server/models"
	usersrepo "github.com/dmitrijs2005/userhub/internal/server/repositories/users"
	"github.com/dmitrijs2005/userhub/internal/server/sessioncache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// fakeUsersRepo is an in-memory users.Repository. Setting err makes every
// call fail with it.
type fakeUsersRepo struct {
	mu     sync.Mutex
	byID   map[int64]*models.User
	nextID int64
	err    error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[int64]*models.User{}, nextID: 1}
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrEmailAlreadyExists
		}
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.ID = f.nextID
	f.nextID++
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	f.byID[u.ID] = &cp
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) List(context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.User, 0, len(f.byID))
	for _, u := range f.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUsersRepo) Update(_ context.Context, id int64, upd models.UserUpdate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return 0, nil
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	return 1, nil
}

func (f *fakeUsersRepo) Delete(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if _, ok := f.byID[id]; !ok {
		return 0, nil
	}
	delete(f.byID, id)
	return 1, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository          { return m.u }

// env wires the services against miniredis, an in-memory users repository
// and a sqlmock database (only Register opens a transaction).
type env struct {
	mr      *miniredis.Miniredis
	cache   *sessioncache.Cache
	repo    *fakeUsersRepo
	codec   *auth.TokenCodec
	hasher  *auth.PasswordHasher
	mock    sqlmock.Sqlmock
	db      *sql.DB
	now     time.Time
	cfg     *config.Config
	session *SessionService
	users   *UserService
	builder *ContextBuilder
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	e.mr = miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: e.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	e.cache = sessioncache.New(rdb, sessioncache.DefaultTTL)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	e.db, e.mock = db, mock

	e.cfg = &config.Config{}
	e.cfg.LoadDefaults()

	e.repo = newFakeUsersRepo()
	rm := &fakeRepoManager{u: e.repo}
	e.codec = auth.NewTokenCodec("access", "refresh", e.cfg.AccessTokenValidityDuration,
		auth.WithClock(func() time.Time { return e.now }))
	e.hasher = auth.NewPasswordHasher(bcrypt.MinCost)

	log := logging.Nop()
	e.session = NewSessionService(db, rm, e.cache, e.codec, e.hasher, e.cfg, log)
	e.users = NewUserService(db, rm, e.hasher, e.cache, e.cfg.OperationTimeout, log)
	e.builder = NewContextBuilder(db, rm, e.cache, e.codec, e.cfg.OperationTimeout, log)
	return e
}

// addUser inserts a user with a real bcrypt hash of password.
func (e *env) addUser(t *testing.T, email, password string, role models.Role) *models.User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := e.repo.Create(context.Background(), &models.User{
		FirstName: "First", LastName: "Last", Email: email, PasswordHash: hash, Role: role,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return u
}

// login performs a login and returns a jar that carries the resulting
// cookies, as a browser would on the next request.
func (e *env) login(t *testing.T, email, password string) *MemoryJar {
	t.Helper()
	jar := NewMemoryJar(nil)
	if _, err := e.session.Login(context.Background(), &RequestContext{Jar: jar}, email, password); err != nil {
		t.Fatalf("login: %v", err)
	}
	return NewMemoryJar(map[string]string{
		common.AccessTokenCookieName:  jar.Last(common.AccessTokenCookieName).Value,
		common.RefreshTokenCookieName: jar.Last(common.RefreshTokenCookieName).Value,
		common.LoggedInCookieName:     jar.Last(common.LoggedInCookieName).Value,
	})
}

func (e *env) build(t *testing.T, jar CookieJar) *RequestContext {
	t.Helper()
	rc, err := e.builder.Build(context.Background(), jar)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return rc
}
