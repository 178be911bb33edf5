package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/metrics"
	"github.com/dmitrijs2005/userhub/internal/server/models"
	"github.com/dmitrijs2005/userhub/internal/server/rpc"
	"github.com/dmitrijs2005/userhub/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeSession issues the cookie "accessToken=tok-<id>" on login; the fake
// identity resolver accepts exactly that value.
type fakeSession struct {
	logoutErr error
}

func (f *fakeSession) Login(_ context.Context, rc *services.RequestContext, email, password string) (string, error) {
	if password != "secret1" {
		return "", common.ErrInvalidCredentials
	}
	rc.Jar.SetCookie(&http.Cookie{Name: common.AccessTokenCookieName, Value: "tok-1", Path: "/", HttpOnly: true})
	rc.Jar.SetCookie(&http.Cookie{Name: common.LoggedInCookieName, Value: "true", Path: "/", HttpOnly: true})
	return services.MsgLoginSuccessful, nil
}

func (f *fakeSession) Logout(_ context.Context, rc *services.RequestContext) error {
	rc.Jar.SetCookie(&http.Cookie{Name: common.AccessTokenCookieName, Value: ""})
	rc.Jar.SetCookie(&http.Cookie{Name: common.LoggedInCookieName, Value: "false"})
	return f.logoutErr
}

func (f *fakeSession) LogoutAllSessions(context.Context, *services.RequestContext) error { return nil }

func (f *fakeSession) Register(context.Context, string, string, string, string) (string, error) {
	return services.MsgRegistrationSuccessful, nil
}

func (f *fakeSession) RefreshAccessToken(_ context.Context, rc *services.RequestContext, token string) (string, error) {
	if token == "" {
		token, _ = rc.Jar.Cookie(common.RefreshTokenCookieName)
	}
	if token != "refresh-1" {
		return "", common.ErrInvalidRefreshToken
	}
	return "tok-1", nil
}

func (f *fakeSession) Permissions(rc *services.RequestContext) ([]string, error) {
	return services.PermissionsFor(rc.User.Role), nil
}

type fakeUsers struct{}

func (fakeUsers) List(context.Context) ([]models.User, error) {
	return []models.User{{ID: 1, Email: "a@b.c", Role: models.RoleAdmin, PasswordHash: "h"}}, nil
}
func (fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	if id != 1 {
		return nil, nil
	}
	return &models.User{ID: 1, Email: "a@b.c", Role: models.RoleAdmin}, nil
}
func (fakeUsers) Create(context.Context, services.NewUser) (string, error) {
	return "", common.ErrEmailAlreadyExists
}
func (fakeUsers) Update(context.Context, int64, services.UserChanges) (int64, error) { return 1, nil }
func (fakeUsers) Remove(context.Context, int64) (int64, error)                       { return 0, errors.New("db down") }

type fakeIdentity struct{}

func (fakeIdentity) Build(_ context.Context, jar services.CookieJar) (*services.RequestContext, error) {
	rc := &services.RequestContext{Jar: jar}
	tok, _ := jar.Cookie(common.AccessTokenCookieName)
	switch tok {
	case "":
	case "tok-1":
		rc.User = &models.User{ID: 1, Role: models.RoleAdmin}
	default:
		return nil, common.ErrTokenVerification
	}
	return rc, nil
}

type harness struct {
	conn    *grpc.ClientConn
	session *fakeSession
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	session := &fakeSession{}
	router := rpc.NewRouter(session, fakeUsers{}, fakeIdentity{}, logging.Nop())
	reg := prometheus.NewRegistry()
	s := NewGRPCServer("bufnet", logging.Nop(), router, metrics.New(reg))

	lis := bufconn.Listen(1 << 20)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{conn: conn, session: session, reg: reg}
}

func withCookies(ctx context.Context, cookies ...string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "cookie", strings.Join(cookies, "; "))
}

func TestLogin_SetsCookieMetadata(t *testing.T) {
	h := newHarness(t)

	var header metadata.MD
	var out rpc.MessageOutput
	err := Call(context.Background(), h.conn, "auth.login",
		map[string]string{"email": "ada@example.com", "password": "secret1"}, &out, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, "Login successful", out.Message)

	setCookies := header.Get("set-cookie")
	require.Len(t, setCookies, 2)
	assert.Contains(t, setCookies[0], "accessToken=tok-1")
	assert.Contains(t, setCookies[0], "HttpOnly")
	assert.Contains(t, setCookies[1], "loggedIn=true")
	assert.NotEmpty(t, header.Get(common.RequestIDHeaderName))
}

func TestCookiesAuthenticate(t *testing.T) {
	h := newHarness(t)

	var perms []string
	err := Call(withCookies(context.Background(), "accessToken=tok-1", "other=x"), h.conn, "auth.permissions", nil, &perms)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "read", "update", "delete"}, perms)

	err = Call(context.Background(), h.conn, "auth.permissions", nil, &perms)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = Call(withCookies(context.Background(), "accessToken=forged"), h.conn, "auth.permissions", nil, &perms)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRefreshFromCookie(t *testing.T) {
	h := newHarness(t)

	var tok string
	err := Call(withCookies(context.Background(), "refreshToken=refresh-1"), h.conn, "auth.refreshAccessToken", nil, &tok)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	err = Call(context.Background(), h.conn, "auth.refreshAccessToken", "bogus", &tok)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "invalid refresh token", st.Message())
}

func TestLogout_FailureStillSendsCookies(t *testing.T) {
	h := newHarness(t)
	h.session.logoutErr = errors.New("redis down")

	var header metadata.MD
	err := Call(context.Background(), h.conn, "auth.logout", nil, nil, grpc.Header(&header))
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "Internal server error", st.Message())

	setCookies := header.Get("set-cookie")
	require.Len(t, setCookies, 2)
	assert.Contains(t, setCookies[1], "loggedIn=false")
}

func TestLogout_NullResult(t *testing.T) {
	h := newHarness(t)

	out := map[string]any{"untouched": true}
	require.NoError(t, Call(context.Background(), h.conn, "auth.logout", nil, &out))
	assert.Equal(t, true, out["untouched"])
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	admin := withCookies(context.Background(), "accessToken=tok-1")

	tests := []struct {
		name string
		ctx  context.Context
		proc string
		in   any
		want codes.Code
	}{
		{"validation", context.Background(), "auth.login", map[string]string{"email": "x"}, codes.InvalidArgument},
		{"credentials", context.Background(), "auth.login", map[string]string{"email": "a@b.cd", "password": "wrong12"}, codes.Unauthenticated},
		{"conflict", admin, "users.create", map[string]string{"firstName": "a", "lastName": "b", "email": "a@b.cd", "password": "secret1"}, codes.AlreadyExists},
		{"internal", admin, "users.remove", 5, codes.Internal},
		{"unknown method", context.Background(), "auth.nope", nil, codes.Unimplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Call(tt.ctx, h.conn, tt.proc, tt.in, nil)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestUsersOverGRPC(t *testing.T) {
	h := newHarness(t)
	admin := withCookies(context.Background(), "accessToken=tok-1")

	var list []json.RawMessage
	require.NoError(t, Call(admin, h.conn, "users.list", nil, &list))
	require.Len(t, list, 1)
	assert.NotContains(t, string(list[0]), "passwordHash")

	var u *models.User
	require.NoError(t, Call(admin, h.conn, "users.getById", 2, &u))
	assert.Nil(t, u)

	var rows rpc.RowsAffectedOutput
	require.NoError(t, Call(admin, h.conn, "users.update", map[string]any{"id": 1, "firstName": "z"}, &rows))
	assert.Equal(t, int64(1), rows.RowsAffected)
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness(t)

	_ = Call(context.Background(), h.conn, "auth.login", map[string]string{"email": "ada@example.com", "password": "secret1"}, nil)

	families, err := h.reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "userhub_rpc_requests_total" {
			for _, m := range mf.GetMetric() {
				labels := map[string]string{}
				for _, l := range m.GetLabel() {
					labels[l.GetName()] = l.GetValue()
				}
				if labels["procedure"] == "auth.login" && labels["transport"] == "grpc" && labels["code"] == "OK" {
					found = true
				}
			}
		}
	}
	assert.True(t, found)
}

func TestServiceDesc(t *testing.T) {
	router := rpc.NewRouter(&fakeSession{}, fakeUsers{}, fakeIdentity{}, logging.Nop())
	s := NewGRPCServer(":0", logging.Nop(), router, nil)

	desc := s.ServiceDesc()
	assert.Equal(t, "userhub.RPC", desc.ServiceName)
	assert.Len(t, desc.Methods, len(router.Procedures()))
	assert.Equal(t, "/userhub.RPC/auth.login", FullMethod("auth.login"))
}

func TestCodeMapping(t *testing.T) {
	t.Parallel()

	for c := range toGRPC {
		assert.Equal(t, c, rpcCode(grpcCode(c)))
	}
	assert.Equal(t, rpc.CodeOK, rpcCode(codes.OK))
	assert.Equal(t, rpc.CodeInternal, rpcCode(codes.DataLoss))
	assert.Equal(t, codes.Unknown, grpcCode("WHATEVER"))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	router := rpc.NewRouter(&fakeSession{}, fakeUsers{}, fakeIdentity{}, logging.Nop())
	srv := NewGRPCServer("127.0.0.1:0", logging.Nop(), router, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	router := rpc.NewRouter(&fakeSession{}, fakeUsers{}, fakeIdentity{}, logging.Nop())
	srv := NewGRPCServer("127.0.0.1:99999", logging.Nop(), router, nil)

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
