// Package rest implements the node's HTTP status API.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/lifecycle"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 5 * time.Second

// Config configures the status API server.
type Config struct {
	Listen   string
	Version  string
	Status   *lifecycle.Context
	Token    *shutdown.Token
	Gatherer prometheus.Gatherer // nil disables /metrics
	Logger   zerolog.Logger
}

// Server is the status API HTTP server.
type Server struct {
	listen string
	server *http.Server
	logger zerolog.Logger

	ready chan struct{}
	ln    net.Listener
}

// New creates a server. It does not listen until Run.
func New(cfg Config) *Server {
	h := NewHandlers(cfg.Status, cfg.Token, cfg.Version)
	return &Server{
		listen: cfg.Listen,
		server: &http.Server{
			Handler:           NewRouter(h, cfg.Gatherer, cfg.Logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      requestTimeout + 5*time.Second,
		},
		logger: cfg.Logger,
		ready:  make(chan struct{}),
	}
}

// Run serves until ctx ends, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("rest listen: %w", err)
	}
	s.ln = ln
	close(s.ready)
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("REST API listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rest shutdown: %w", err)
		}
		s.logger.Info().Msg("REST API stopped")
		return nil
	case err := <-errCh:
		return fmt.Errorf("rest server: %w", err)
	}
}

// Addr waits until the server listens and returns its address.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.ln.Addr().String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
