// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package main is the Vigil demo host, a small web service wired with every
// Vigil component. It exists to show the intended composition and to give
// integrators a running target for poking at records, metrics, and shutdown
// behavior.
//
// # Architecture
//
// The host initializes components in the following order:
//
//  1. Configuration: layered load (defaults, YAML file, VIGIL_* environment)
//  2. Logging: process-level zerolog from the log section
//  3. Redactor: shared masking rules for bodies, headers, and command text
//  4. Pipeline: bounded record queue emitting through a ZerologSink
//  5. Tracers: database, cache, and jobs wrappers plus the outbound transport
//  6. Router: chi with CORS, rate limiting, and the Vigil interceptors
//  7. Supervision: HTTP server and cache sweeper under one suture tree
//
// # Configuration
//
// Configuration follows the vigil/config conventions: vigil.yaml in the
// working directory (or VIGIL_CONFIG / -config), overridden by VIGIL_*
// environment variables:
//
//	VIGIL_APP__NAME=vigil-demo
//	VIGIL_LOG__LEVEL=debug
//	VIGIL_DATABASE__SLOW_THRESHOLD=250ms
//	VIGIL_HTTP__REWRITE_ERRORS=true
//	./vigil-demo -addr :8086
//
// With rewrite_errors off (the default) the /boom endpoint logs the panic
// and lets it propagate; with it on, the exception handler answers with a
// classified JSON error instead.
//
// # Endpoints
//
//	GET  /healthz          liveness, excluded from request logging
//	GET  /metrics          Prometheus metrics (when metrics.enabled)
//	POST /echo             echoes the JSON body with the correlation id
//	GET  /users            lists users through the database tracer
//	GET  /users/{id}       cache lookup then database fetch; ?delay=250ms
//	                       stretches the query past the slow threshold
//	GET  /boom             panics; the exception handler takes it from there
//	GET  /upstream/status  upstream simulator; ?code=502&delay=100ms
//	GET  /proxy            calls /upstream/status through the instrumented
//	                       client, circuit breaker included
//
// # Shutdown
//
// SIGINT or SIGTERM cancels the supervision tree. The HTTP server drains
// in-flight requests, the sweeper stops, and only then is the record
// pipeline closed, so every record produced by the final requests is
// flushed before exit.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mverrier/vigil/config"
	"github.com/mverrier/vigil/instrument"
	"github.com/mverrier/vigil/logging"
	"github.com/mverrier/vigil/metrics"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
	"github.com/mverrier/vigil/service"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (default: vigil.yaml lookup)")
	addr := flag.String("addr", ":8086", "listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Log.Logging())
	logging.Info().
		Str("app", cfg.App.Name).
		Str("environment", cfg.App.Environment).
		Str("version", version).
		Msg("Starting Vigil demo host")

	redactor := redact.New(cfg.Redact.Options())

	// Records carry their own timestamps, so the sink logger must not stamp
	// one of its own.
	recLogger := zerolog.New(os.Stderr)
	if cfg.Log.Format == "console" {
		recLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	pipe := pipeline.New(cfg.Pipeline, pipeline.NewZerologSink(recLogger))

	metrics.SetAppInfo(version, runtime.Version())

	client := &http.Client{
		Transport: instrument.NewTransport(cfg.Client.Name, cfg.Client.Options(), cfg.Client.Breaker, nil, pipe, redactor),
		Timeout:   10 * time.Second,
	}

	repo := newUserRepo()
	handlers := &demoHandlers{
		repo:     repo,
		db:       instrument.NewDatabase(cfg.Database, pipe, redactor),
		cache:    instrument.NewCache(cfg.Cache, pipe, redactor),
		client:   client,
		selfBase: selfBaseURL(*addr),
	}

	httpCfg := cfg.HTTP
	if len(httpCfg.ExcludedPaths) == 0 {
		httpCfg.ExcludedPaths = []string{"/healthz", "/metrics"}
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      newRouter(handlers, httpCfg, cfg.Metrics.Enabled, pipe, redactor),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := service.NewTree(cfg.App.Name, logging.NewSlogLogger(), service.DefaultTreeConfig())
	tree.Add(newSweeper(instrument.NewJobs(cfg.Jobs, pipe, redactor), repo, time.Now()))
	tree.Add(service.NewHTTP(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server and cache sweeper added to supervision tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervision tree to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervision tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// The tree is down: handlers and the sweeper have stopped producing, so
	// this drain flushes everything, including records from the final
	// requests.
	if err := pipe.Close(); err != nil {
		logging.Error().Err(err).Msg("Record pipeline drain failed")
	}
	logging.Info().Msg("Demo host stopped gracefully")
}

// selfBaseURL turns a listen address into a loopback base URL the proxy
// endpoint can call.
func selfBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}
