// Package rpc is the transport-neutral procedure table: it decodes and
// validates inputs, enforces authentication and permissions, and maps
// service errors to RPC error codes. The gRPC and HTTP transports both
// dispatch through Router.Handle.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/models"
	"github.com/dmitrijs2005/userhub/internal/server/services"
	"github.com/go-playground/validator/v10"
)

type Kind int

const (
	Query Kind = iota
	Mutation
)

func (k Kind) String() string {
	if k == Query {
		return "query"
	}
	return "mutation"
}

// Access describes who may call a procedure.
type Access struct {
	Authenticated bool
	Permission    string
}

var public = Access{}

func requires(perm string) Access {
	return Access{Authenticated: true, Permission: perm}
}

type handlerFunc func(ctx context.Context, rc *services.RequestContext, input json.RawMessage) (any, error)

// Procedure is one entry of the table.
type Procedure struct {
	Name    string
	Kind    Kind
	Access  Access
	handler handlerFunc
}

type SessionManager interface {
	Login(ctx context.Context, rc *services.RequestContext, email, password string) (string, error)
	Logout(ctx context.Context, rc *services.RequestContext) error
	LogoutAllSessions(ctx context.Context, rc *services.RequestContext) error
	Register(ctx context.Context, firstName, lastName, email, password string) (string, error)
	RefreshAccessToken(ctx context.Context, rc *services.RequestContext, token string) (string, error)
	Permissions(rc *services.RequestContext) ([]string, error)
}

type UserManager interface {
	List(ctx context.Context) ([]models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, in services.NewUser) (string, error)
	Update(ctx context.Context, id int64, in services.UserChanges) (int64, error)
	Remove(ctx context.Context, id int64) (int64, error)
}

type IdentityResolver interface {
	Build(ctx context.Context, jar services.CookieJar) (*services.RequestContext, error)
}

// Router owns the procedure table.
type Router struct {
	procs    map[string]Procedure
	session  SessionManager
	users    UserManager
	identity IdentityResolver
	validate *validator.Validate
	log      logging.Logger
}

func NewRouter(session SessionManager, users UserManager, identity IdentityResolver, log logging.Logger) *Router {
	r := &Router{
		procs:    map[string]Procedure{},
		session:  session,
		users:    users,
		identity: identity,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
	r.register()
	return r
}

func (r *Router) add(name string, kind Kind, access Access, h handlerFunc) {
	r.procs[name] = Procedure{Name: name, Kind: kind, Access: access, handler: h}
}

// Lookup returns the procedure registered under name.
func (r *Router) Lookup(name string) (Procedure, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// Procedures returns all procedures sorted by name.
func (r *Router) Procedures() []Procedure {
	out := make([]Procedure, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Handle resolves the caller from jar and runs the named procedure. A
// non-nil *Error is always returned on failure; internal causes are logged
// here and hidden from the message.
func (r *Router) Handle(ctx context.Context, name string, jar services.CookieJar, input json.RawMessage) (any, *Error) {
	p, ok := r.procs[name]
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no procedure %q", name)}
	}

	rc, err := r.identity.Build(ctx, jar)
	if err != nil {
		return nil, r.fail(ctx, name, err)
	}

	if p.Access.Authenticated && !rc.Authenticated() {
		return nil, &Error{Code: CodeUnauthorized, Message: "authentication required"}
	}
	if p.Access.Permission != "" && !services.HasPermission(rc.User.Role, p.Access.Permission) {
		return nil, &Error{Code: CodeForbidden, Message: fmt.Sprintf("missing permission %q", p.Access.Permission)}
	}

	out, err := p.handler(ctx, rc, input)
	if err != nil {
		return nil, r.fail(ctx, name, err)
	}
	return out, nil
}

func (r *Router) fail(ctx context.Context, name string, err error) *Error {
	e := Classify(err)
	if e.Code == CodeInternal {
		r.log.Error(ctx, "procedure failed", "procedure", name, "error", err)
	}
	return e
}
