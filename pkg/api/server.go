// Package api exposes the service over HTTP: the public game-client
// routes, the authenticated management routes and the operational
// endpoints (health probes, metrics).
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/frostline/updated/internal/logger"
)

// Options sizes the HTTP server. Zero timeouts fall back to defaults
// generous enough for chunk uploads on slow links.
type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 120 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 120 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	return o
}

// Server is the HTTP front of the service. It is created stopped; Start
// blocks until the context is cancelled, then shuts down gracefully.
type Server struct {
	server          *http.Server
	port            int
	shutdownTimeout time.Duration
	shutdownOnce    sync.Once
}

// NewServer builds the HTTP server. In-flight requests get
// opts.ShutdownTimeout to drain on shutdown.
func NewServer(opts Options, deps Deps) *Server {
	opts = opts.withDefaults()
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      NewRouter(deps),
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		port:            opts.Port,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "component", "api", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("HTTP server shutdown signal received", "component", "api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop drains in-flight requests. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown: %w", err)
			logger.Error("HTTP server shutdown error", "component", "api", "error", err)
		} else {
			logger.Info("HTTP server stopped gracefully", "component", "api")
		}
	})
	return shutdownErr
}
