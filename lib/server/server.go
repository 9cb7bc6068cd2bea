// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a Store over HTTP. The path grammar is the
// Name grammar: /cid, /head, and /call, plus /refs for reverse
// reference discovery. Package httpstore is the matching client.
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

// Server serves the Store API on a TCP listener. It manages listener
// lifecycle and graceful shutdown; Serve(ctx) blocks until the
// context is cancelled and active requests drain.
type Server struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	// shutdownTimeout is the maximum time to wait for active
	// requests to complete after the context is cancelled.
	shutdownTimeout time.Duration

	// ready is closed after the listener is bound and the server is
	// accepting connections.
	ready chan struct{}

	// addr is the resolved listen address, available after ready is
	// closed.
	addr net.Addr
}

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address (e.g., ":29000",
	// "127.0.0.1:9000"). Required.
	Address string

	// Handler serves the API, normally a *Handler. Required.
	Handler http.Handler

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// New creates a server that will listen on the configured address.
// Call Serve to start accepting connections.
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

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Server{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound
// and accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready
// is closed; with a :0 address it carries the OS-assigned port.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve starts accepting connections. Blocks until ctx is cancelled,
// then stops accepting and waits up to ShutdownTimeout for active
// requests to complete.
func (s *Server) Serve(ctx context.Context) error {
	// Bind early so the resolved address is known and readiness can
	// be signalled before the serve loop starts.
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// Store payloads are usually small CBOR bodies; the
		// timeouts protect against slow clients holding connections
		// open.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("store server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("store server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("store server shutdown error", "error", err)
		return fmt.Errorf("store server shutdown: %w", err)
	}

	s.logger.Info("store server stopped")
	return nil
}
