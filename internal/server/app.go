// Package server wires the userhub backend together: configuration,
// Postgres, Redis, services and the gRPC and HTTP transports.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/auth"
	"github.com/dmitrijs2005/userhub/internal/server/config"
	"github.com/dmitrijs2005/userhub/internal/server/httpapi"
	"github.com/dmitrijs2005/userhub/internal/server/metrics"
	"github.com/dmitrijs2005/userhub/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/userhub/internal/server/rpc"
	"github.com/dmitrijs2005/userhub/internal/server/services"
	"github.com/dmitrijs2005/userhub/internal/server/sessioncache"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/userhub/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	rdb         *redis.Client
	userService *services.UserService
	grpcServer  *gs.GRPCServer
	httpServer  *httpapi.HTTPServer
}

// NewApp validates the config, connects to Postgres and Redis, applies
// migrations and builds both transports. out receives the logs.
func NewApp(ctx context.Context, c *config.Config, out io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(out, c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	if !strings.EqualFold(c.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	rdb := sessioncache.NewClient(c.RedisAddr, c.RedisPassword, c.RedisDB)
	cache := sessioncache.New(rdb, c.RefreshTokenValidityDuration)
	if err := cache.Ping(ctx); err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis init error: %w", err)
	}

	tokens := auth.NewTokenCodec(c.AccessTokenSecret, c.RefreshTokenSecret, c.AccessTokenValidityDuration)
	hasher := auth.NewPasswordHasher(c.BcryptCost)

	sessionService := services.NewSessionService(db, rm, cache, tokens, hasher, c, logger.With("module", "session_service"))
	userService := services.NewUserService(db, rm, hasher, cache, c.OperationTimeout, logger.With("module", "user_service"))
	identity := services.NewContextBuilder(db, rm, cache, tokens, c.OperationTimeout, logger.With("module", "context_builder"))

	router := rpc.NewRouter(sessionService, userService, identity, logger.With("module", "rpc"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]httpapi.Pinger{
		"postgres": db.PingContext,
		"redis":    cache.Ping,
	}

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		rdb:         rdb,
		userService: userService,
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, logger, router, m),
		httpServer:  httpapi.NewHTTPServer(c.EndpointAddrHTTP, logger, router, m, reg, checks),
	}, nil
}

func (app *App) seedAdmin(ctx context.Context) {
	created, err := app.userService.SeedAdmin(ctx, app.config.AdminEmail, app.config.AdminPassword)
	if err != nil {
		app.logger.Error(ctx, "admin seeding failed", "error", err)
		return
	}
	if created {
		app.logger.Info(ctx, "admin account created", "email", app.config.AdminEmail)
	}
}

type runner interface {
	Run(ctx context.Context) error
}

// Run serves both transports until ctx is cancelled or one of them fails,
// then stops the other and releases the connections.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "env", app.config.Environment)
	app.seedAdmin(ctx)

	var wg sync.WaitGroup
	for name, srv := range map[string]runner{"grpc": app.grpcServer, "http": app.httpServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				app.logger.Error(ctx, "server stopped with error", "server", name, "error", err)
			}
			cancelFunc()
		}()
	}

	wg.Wait()

	if err := app.rdb.Close(); err != nil {
		app.logger.Error(ctx, "redis close error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}

// Main loads the config and runs the app until ctx is done.
func Main(ctx context.Context) error {
	app, err := NewApp(ctx, config.LoadConfig(), os.Stdout)
	if err != nil {
		return err
	}
	app.Run(ctx)
	return nil
}
