// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package middleware provides the inbound HTTP interceptors: correlation
// propagation, request/response logging, and panic capture with error
// classification.
//
// # Composition
//
// Both interceptors are standard func(http.Handler) http.Handler
// factories. Install ExceptionHandler outermost and RequestLogger inside
// it, with handlers innermost:
//
//	r := chi.NewRouter()
//	r.Use(middleware.ExceptionHandler(cfg, pipe, redactor))
//	r.Use(middleware.RequestLogger(cfg, pipe, redactor))
//
// A panic then unwinds through RequestLogger, which logs it with a capped
// stack and re-raises, into ExceptionHandler, which classifies it and
// either rewrites the response or re-raises again for the host's own
// recovery.
//
// # Correlation
//
// RequestLogger resolves the chain ID per request: the configured header
// (X-Correlation-Id by default), else the trace-id field of a W3C
// traceparent header, else a freshly generated ID. The ID is published
// into the request context for the correlation package, echoed on the
// response header, and stamped on every record the request produces. A
// full-UUID request ID is minted alongside it.
//
// # Body Capture
//
// Request bodies are captured up to MaxBodyBytes and re-stitched so
// handlers read the complete stream. Responses are held in a buffering
// writer until the handler returns, which is what makes a clean error
// rewrite possible after a panic; handlers that call Flush switch the
// writer to passthrough, so streaming responses work at the cost of only
// their buffered prefix being logged. Captured bodies and headers pass
// through the redact package before they reach a record.
//
// Handlers that hijack the connection (websockets) should be listed in
// ExcludedPaths: excluded requests still get correlation propagation and
// header echo but skip capture entirely.
//
// # Classification
//
// Classify maps an error to a kind (validation, authorization, not_found,
// timeout, external_service, database, system), a severity, an HTTP
// status, a user-safe message, and an alert flag. Inputs it understands:
// the exported sentinel errors, validator.ValidationErrors, sql.ErrNoRows,
// context deadlines and net.Error timeouts, circuit breaker rejections,
// and database driver sentinels. Anything else is a system failure.
//
// ExceptionHandler is observe-only by default: it logs and re-raises.
// With RewriteErrors it replaces the response with the classified status
// and a generic JSON body carrying the correlation ID for support.
//
// # See Also
//
//   - Package pipeline for where the records go.
//   - Package redact for masking rules.
//   - Package instrument for the outbound side.
package middleware
