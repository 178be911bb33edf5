// Package httpapi exposes the procedure table over HTTP with gin:
// POST /trpc/<procedure> (GET for queries), plus /healthz and /metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/metrics"
	"github.com/dmitrijs2005/userhub/internal/server/rpc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger checks one dependency for /healthz.
type Pinger func(ctx context.Context) error

type HTTPServer struct {
	address  string
	router   *rpc.Router
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   map[string]Pinger
	logger   logging.Logger
	engine   *gin.Engine
}

// NewHTTPServer builds the gin engine. gatherer may be nil, in which case
// /metrics is not mounted.
func NewHTTPServer(address string, l logging.Logger, router *rpc.Router, m *metrics.Metrics,
	gatherer prometheus.Gatherer, checks map[string]Pinger) *HTTPServer {
	s := &HTTPServer{
		address:  address,
		router:   router,
		metrics:  m,
		gatherer: gatherer,
		checks:   checks,
		logger:   l.With("module", "http_server"),
	}
	s.engine = s.setupRoutes()
	return s
}

func (s *HTTPServer) setupRoutes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), s.observe())

	engine.GET("/healthz", s.healthz)
	if s.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	trpc := engine.Group("/trpc")
	trpc.POST("/:procedure", s.handlePost)
	trpc.GET("/:procedure", s.handleGet)

	return engine
}

// Handler returns the root http.Handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, ping := range s.checks {
		if err := ping(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "errors": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
