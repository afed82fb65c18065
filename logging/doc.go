// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package logging provides the zerolog-based process logger shared by all
// Vigil components and available to host applications.
//
// Vigil's instrumentation output travels through the pipeline package to a
// configurable sink; this package is the layer underneath: the always-available
// logger used for the pipeline's fallback diagnostics, the supervision tree's
// events, and any direct logging a host wants to do in the same format.
//
// # Overview
//
// The package provides:
//   - Zero-allocation structured logging via zerolog
//   - JSON output for production, console output for development
//   - Context-aware logging that picks up correlation and request IDs
//   - An slog adapter so slog-only libraries (sutureslog) share the backend
//
// # Quick Start
//
//	import "github.com/mverrier/vigil/logging"
//
//	// Initialize once at host startup
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	logging.Info().Str("addr", addr).Msg("listener ready")
//	logging.Error().Err(err).Msg("operation failed")
//
//	// Context-aware logging (adds correlation_id/request_id fields)
//	logging.Ctx(ctx).Info().Msg("processing request")
//
// # Log Levels
//
// Supported levels, most to least verbose:
//
//	trace  debug  info  warn  error  fatal  panic
//
// # Structured Logging Best Practices
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
//
// Prefer structured fields over formatted strings:
//
//	logging.Info().Str("op", name).Dur("elapsed", d).Msg("operation complete")
//
// # Component Loggers
//
// Create component-specific loggers with default fields:
//
//	pipeLogger := logging.WithComponent("pipeline")
//	pipeLogger.Warn().Msg("sink emit failed")
//
// # slog Adapter
//
// Libraries that require *slog.Logger can share the zerolog backend:
//
//	slogger := logging.NewSlogLogger()
//	hook := (&sutureslog.Handler{Logger: slogger}).MustHook()
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. The global logger is
// guarded by a sync.RWMutex for reconfiguration.
//
// # Testing
//
// Capture output in tests:
//
//	var buf bytes.Buffer
//	logger := logging.NewTestLogger(&buf)
//	logger.Info().Msg("test message")
//	output := buf.String()
package logging
