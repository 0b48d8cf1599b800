// Package server holds the HTTP plumbing every service shares: the middleware
// stack, probe and metrics routes, and a server that drains on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/health"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/middleware"
)

// Config holds listener settings. Zero durations take the defaults below.
type Config struct {
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	// HandlerTimeout cancels a request's context once exceeded.
	HandlerTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.ReadTimeout, 15*time.Second)
	def(&c.WriteTimeout, 15*time.Second)
	def(&c.IdleTimeout, 60*time.Second)
	def(&c.ReadHeaderTimeout, 5*time.Second)
	def(&c.HandlerTimeout, 10*time.Second)
	def(&c.ShutdownTimeout, 10*time.Second)
	return c
}

// NewRouter returns a router with the shared middleware stack and the
// /health/live, /health/ready and /metrics routes. Services mount their API
// on it.
func NewRouter(service string, cfg Config, probes *health.Handler, logger *slog.Logger) chi.Router {
	cfg = cfg.withDefaults()
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(service))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(service))
	r.Use(chimw.Timeout(cfg.HandlerTimeout))

	r.Get("/health/live", probes.LivenessHandler())
	r.Get("/health/ready", probes.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Server is an http.Server that shuts down gracefully when its context ends.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New wraps h in a Server listening on cfg.Port.
func New(cfg Config, h http.Handler, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Run serves until ctx is canceled, then drains in-flight requests for up to
// the shutdown timeout. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("draining HTTP server", slog.Duration("timeout", s.shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
