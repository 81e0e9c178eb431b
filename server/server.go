// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server serves HTTP on a TCP listener and manages listener lifecycle
// and graceful shutdown; routing lives in the API handler. Serve(ctx)
// blocks until the context is cancelled and active requests drain.
type Server struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	// shutdownGrace bounds the wait for in-flight requests after the
	// context is cancelled.
	shutdownGrace time.Duration

	// ready is closed once the listener is bound and accepting.
	ready chan struct{}

	// addr is the resolved listen address, valid after ready closes.
	// Carries the actual port when the configured address used :0.
	addr net.Addr
}

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address, e.g. "127.0.0.1:8781".
	Address string

	// Handler routes incoming requests. Required.
	Handler http.Handler

	// ShutdownGrace defaults to 5 seconds when zero.
	ShutdownGrace time.Duration

	Logger *slog.Logger
}

func New(config Config) *Server {
	if config.Address == "" {
		panic("server: Address is required")
	}
	if config.Handler == nil {
		panic("server: Handler is required")
	}
	if config.Logger == nil {
		panic("server: Logger is required")
	}

	grace := config.ShutdownGrace
	if grace == 0 {
		grace = 5 * time.Second
	}
	return &Server{
		address:       config.Address,
		handler:       config.Handler,
		logger:        config.Logger,
		shutdownGrace: grace,
		ready:         make(chan struct{}),
	}
}

// Ready returns a channel closed once the server is accepting
// connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully: new connections are refused and active requests get up
// to the shutdown grace to finish.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	httpServer := &http.Server{
		Handler: s.handler,

		// Push subscribers hold their request open indefinitely, so
		// there is no WriteTimeout; read timeouts still bound slow
		// clients on the way in.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("read api listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("read api shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("read api shutdown error", "error", err)
		return fmt.Errorf("read api shutdown: %w", err)
	}

	s.logger.Info("read api stopped")
	return nil
}
