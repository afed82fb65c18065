// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package instrument wraps the hot paths of a service - database calls,
// cache access, background jobs, and outbound HTTP - with timing records,
// metrics, and failure classification, without touching the wrapped code's
// error contract.
//
// # Overview
//
// Every wrapper follows the same shape: generate a short operation ID,
// optionally record the start, run the operation, then emit exactly one
// outcome record - completion, cancellation, or error. Results and errors
// pass through bitwise unchanged; instrumentation never wraps an error and
// never swallows one.
//
// Records flow through the pipeline package, so emission is asynchronous
// and the wrapped operation never waits on I/O for its logging. Detail
// text (SQL, cache keys, URLs) is redacted and cropped before it enters
// a record.
//
// # Quick Start
//
// Wrap a repository call:
//
//	db := instrument.NewDatabase(instrument.DefaultOptions(), pipe, redactor)
//
//	user, err := instrument.Do(ctx, db, "get_user", "SELECT * FROM users WHERE id = $1",
//		func(ctx context.Context) (*User, error) {
//			return repo.GetUser(ctx, id)
//		})
//
// Wrap an HTTP client:
//
//	client := &http.Client{
//		Transport: instrument.NewTransport("billing", opts, true, nil, pipe, redactor),
//		Timeout:   10 * time.Second,
//	}
//
// # Outcomes
//
// Success emits a completion record with elapsed milliseconds and a
// redacted view of the result, plus a warning record when the elapsed
// time exceeds the category's slow threshold (500ms database, 100ms
// cache, 30s jobs, 2s outbound HTTP by default).
//
// Cancellation - the caller's context expiring, detected by matching the
// returned error against the context state - emits an informational
// cancelled record, not an error record. A driver timing out internally
// while the context is still live is a real failure.
//
// Any other error emits exactly one error record carrying the error type
// and redacted message. Command text is attached only when
// IncludeCommandText is set.
//
// # Disabling
//
// A tracer with Enabled false (or a nil tracer) is a pure passthrough:
// the operation runs with no records, no metrics, and no ID generation.
// Per-call toggles (LogStart, LogResults) trim volume without losing
// error records, which are always emitted while the tracer is enabled.
//
// # Circuit Breaker
//
// NewTransport optionally places a circuit breaker between the wrapper
// and the base http.RoundTripper. The breaker opens at sixty percent
// failures over at least ten requests, stays open for two minutes, and
// probes with three requests half-open. State changes and per-request
// outcomes feed the metrics package. Rejected requests fail fast with
// gobreaker.ErrOpenState before any connection is attempted.
//
// # Thread Safety
//
// Tracers and Transports are immutable after construction and safe for
// concurrent use by any number of goroutines.
//
// # See Also
//
//   - Package pipeline for the record queue the wrappers emit into.
//   - Package redact for the masking rules applied to detail text.
//   - Package middleware for the inbound HTTP side.
package instrument
