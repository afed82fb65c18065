// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer matches *http.Server's lifecycle methods, so tests can
// substitute a double without binding a port.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTP runs an HTTP server under supervision, translating the blocking
// ListenAndServe pattern into suture's context-aware Serve: listen in a
// goroutine, wait for cancellation or a server error, then shut down
// gracefully within the configured timeout.
//
// Example usage:
//
//	srv := &http.Server{Addr: ":8080", Handler: router}
//	tree.Add(service.NewHTTP(srv, 10*time.Second))
type HTTP struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTP wraps server as a supervised service. The shutdown timeout
// bounds how long active connections get to finish during graceful
// shutdown; zero or negative means 10s.
func NewHTTP(server HTTPServer, shutdownTimeout time.Duration) *HTTP {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTP{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
	}
}

// Serve implements suture.Service. A crashed or unstartable server returns
// its error so the supervisor restarts it with backoff; context
// cancellation runs a graceful Shutdown and returns the context's error.
// http.ErrServerClosed is the expected listen result after Shutdown and is
// not a failure.
func (s *HTTP) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The caller's context is already cancelled; the drain needs its
		// own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervision logs.
func (s *HTTP) String() string {
	return s.name
}
