// Package server is the HTTP surface over the connectivity layer: health
// and diagnostics endpoints, the reconfiguration entry point, and the
// template execution API. All database semantics live below it; handlers
// translate errors to status codes and never touch the driver.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/logger"
	"github.com/opslens/vdiag/internal/pool"
	"github.com/opslens/vdiag/internal/query"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// Server wires the HTTP handlers to the pool, gate, and executor.
type Server struct {
	settings *config.Settings
	pool     *pool.Pool
	gate     *pool.Gate
	executor *query.Executor

	// metricsHandler serves /metrics; nil disables the endpoint.
	metricsHandler http.Handler

	log     *logger.Logger
	started time.Time
}

// New builds the server. metricsHandler may be nil.
func New(settings *config.Settings, p *pool.Pool, gate *pool.Gate, executor *query.Executor, metricsHandler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New(nil)
	}
	return &Server{
		settings:       settings,
		pool:           p,
		gate:           gate,
		executor:       executor,
		metricsHandler: metricsHandler,
		log:            log.Component("server"),
		started:        time.Now(),
	}
}

// Routes assembles the chi router with CORS, request logging, and the
// bearer-token middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	if len(s.settings.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.settings.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler)
	}

	r.Use(s.bearerAuth)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/diagnostics", s.handleDiagnostics)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Post("/db/configure", s.handleConfigure)
	r.Post("/query", s.handleQuery)

	// Ranked views shadow their raw templates: static routes win over the
	// {template} parameter in chi.
	r.Post("/tools/repeat_issues_cluster", s.handleRepeatIssues)
	r.Post("/tools/search_schema_objects", s.handleSearchObjects)
	r.Post("/tools/{template}", s.handleTool)
	r.Get("/tools", s.handleListTools)

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	host := ResolveListenHost(s.settings.ListenHost, s.log)
	port := ResolveListenPort(s.settings.ListenPort, s.log)
	addr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.With().Str("addr", addr).Logger().Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
