// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/internal/stack"
	"github.com/mverrier/vigil/metrics"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// Config controls the HTTP interceptors. One struct covers both
// RequestLogger and ExceptionHandler so hosts configure the layer once.
type Config struct {
	// Enabled turns the interceptors on. Disabled factories return the
	// next handler untouched.
	Enabled bool `koanf:"enabled"`

	// CorrelationHeader is read from requests and echoed on responses.
	CorrelationHeader string `koanf:"correlation_header"`

	// RequestIDHeader carries the per-request ID on responses.
	RequestIDHeader string `koanf:"request_id_header"`

	// ExcludedPaths suppress request and response records. A request
	// whose path contains any entry is excluded; correlation still
	// resolves and propagates.
	ExcludedPaths []string `koanf:"excluded_paths"`

	// LogHeaders includes masked request headers in request records.
	LogHeaders bool `koanf:"log_headers"`

	// LogRequestBody captures up to MaxBodyBytes of the request body.
	LogRequestBody bool `koanf:"log_request_body"`

	// LogResponseBody captures up to MaxBodyBytes of the response body.
	LogResponseBody bool `koanf:"log_response_body"`

	// MaxBodyBytes caps each captured body. Zero means 4096.
	MaxBodyBytes int `koanf:"max_body_bytes" validate:"omitempty,min=1"`

	// RewriteErrors lets ExceptionHandler replace the response with a
	// classified status and generic JSON body. Off means observe-only:
	// panics are logged and re-raised for the host's own recovery.
	RewriteErrors bool `koanf:"rewrite_errors"`
}

// DefaultConfig returns the interceptor defaults: everything logged,
// 4KiB body caps, observe-only panic handling.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		CorrelationHeader: "X-Correlation-Id",
		RequestIDHeader:   "X-Request-Id",
		LogHeaders:        true,
		LogRequestBody:    true,
		LogResponseBody:   true,
		MaxBodyBytes:      4096,
	}
}

// normalized fills zero-value fields so partial literals behave.
func (c Config) normalized() Config {
	if c.CorrelationHeader == "" {
		c.CorrelationHeader = "X-Correlation-Id"
	}
	if c.RequestIDHeader == "" {
		c.RequestIDHeader = "X-Request-Id"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4096
	}
	return c
}

// RequestLogger returns the request/response interceptor. It resolves the
// correlation ID (configured header, then W3C traceparent, then a fresh
// one), publishes it into the request context, echoes it on the response,
// and emits one record when the request arrives and one when it completes.
// Bodies are captured up to the configured cap and pass through the
// redactor before emission.
//
// A panic downstream is logged with a capped stack and re-raised
// unchanged; pair with ExceptionHandler outside this middleware.
func RequestLogger(cfg Config, pipe *pipeline.Pipeline, redactor *redact.Redactor) func(http.Handler) http.Handler {
	cfg = cfg.normalized()
	if redactor == nil {
		redactor = redact.New(redact.Options{})
	}
	if !cfg.Enabled || pipe == nil {
		return passthrough
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := resolveCorrelation(cfg.CorrelationHeader, r)
			reqID := correlation.GenerateRequestID()

			ctx := correlation.With(r.Context(), corrID)
			ctx = correlation.WithRequestID(ctx, reqID)
			r = r.WithContext(ctx)

			w.Header().Set(cfg.CorrelationHeader, corrID)
			w.Header().Set(cfg.RequestIDHeader, reqID)

			if excluded(cfg.ExcludedPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var reqBody string
			if cfg.LogRequestBody {
				reqBody, r.Body = captureBody(r.Body, cfg.MaxBodyBytes)
			}
			logRequest(cfg, pipe, redactor, r, corrID, reqID, reqBody)

			bw := newBufferingWriter(w)
			start := time.Now()

			defer func() {
				if rec := recover(); rec != nil {
					if rec != http.ErrAbortHandler {
						logPanic(pipe, redactor, r, corrID, reqID, rec)
					}
					panic(rec)
				}
			}()

			next.ServeHTTP(bw, r)

			elapsed := time.Since(start)
			logResponse(cfg, pipe, redactor, r, corrID, reqID, bw, elapsed)
			metrics.RecordHTTPRequest(r.Method, bw.status, elapsed)
			metrics.RecordHTTPBodySizes(len(reqBody), bw.size)
			bw.finish()
		})
	}
}

// passthrough is the identity middleware returned when disabled.
func passthrough(next http.Handler) http.Handler {
	return next
}

// ============================================================================
// Correlation resolution
// ============================================================================

// resolveCorrelation picks the chain ID for a request: the configured
// header when present, else the trace-id field of a W3C traceparent
// header, else a freshly generated ID.
func resolveCorrelation(header string, r *http.Request) string {
	if id := r.Header.Get(header); id != "" {
		return id
	}
	if id := traceParentID(r.Header.Get("traceparent")); id != "" {
		return id
	}
	return correlation.Generate()
}

// traceParentID extracts the trace-id field from a traceparent value
// (version-traceid-parentid-flags). Returns "" for anything malformed
// or the all-zero invalid trace ID.
func traceParentID(tp string) string {
	parts := strings.Split(tp, "-")
	if len(parts) < 4 {
		return ""
	}
	id := parts[1]
	if len(id) != 32 {
		return ""
	}
	zero := true
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return ""
		}
		if c != '0' {
			zero = false
		}
	}
	if zero {
		return ""
	}
	return id
}

// excluded reports whether path matches any configured fragment.
// Fragments match as prefixes or anywhere in the path.
func excluded(fragments []string, path string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(path, f) {
			return true
		}
	}
	return false
}

// ============================================================================
// Record emission
// ============================================================================

func logRequest(cfg Config, pipe *pipeline.Pipeline, redactor *redact.Redactor, r *http.Request, corrID, reqID, body string) {
	template := "http {method} {path} received from {remote} [{request_id}]"
	rec := pipeline.NewRecord(zerolog.InfoLevel, template).
		With("method", r.Method).
		With("path", r.URL.Path).
		With("remote", r.RemoteAddr).
		With("request_id", reqID)
	if cfg.LogHeaders {
		rec.Template += " headers={headers}"
		rec.With("headers", redactor.MaskHeaders(r.Header))
	}
	if body != "" {
		rec.Template += " body={body}"
		rec.With("body", redact.Crop(redactor.Mask(body), cfg.MaxBodyBytes))
	}
	emit(pipe, rec, corrID)
}

func logResponse(cfg Config, pipe *pipeline.Pipeline, redactor *redact.Redactor, r *http.Request, corrID, reqID string, bw *bufferingWriter, elapsed time.Duration) {
	level := zerolog.InfoLevel
	switch {
	case bw.status >= http.StatusInternalServerError:
		level = zerolog.ErrorLevel
	case bw.status >= http.StatusBadRequest:
		level = zerolog.WarnLevel
	}

	template := "http {method} {path} completed [{request_id}]: status {status} in {elapsed_ms}ms size={size}"
	rec := pipeline.NewRecord(level, template).
		With("method", r.Method).
		With("path", r.URL.Path).
		With("request_id", reqID).
		With("status", bw.status).
		With("elapsed_ms", float64(elapsed.Microseconds())/1000.0).
		With("size", bw.size)
	if cfg.LogResponseBody {
		if body := bw.body(cfg.MaxBodyBytes); body != "" {
			rec.Template += " body={body}"
			rec.With("body", redact.Crop(redactor.Mask(body), cfg.MaxBodyBytes))
		}
	}
	emit(pipe, rec, corrID)
}

func logPanic(pipe *pipeline.Pipeline, redactor *redact.Redactor, r *http.Request, corrID, reqID string, value interface{}) {
	rec := pipeline.NewRecord(zerolog.ErrorLevel,
		"http {method} {path} panicked [{request_id}]: {panic}").
		With("method", r.Method).
		With("path", r.URL.Path).
		With("request_id", reqID).
		With("panic", redactor.Mask(stringify(value))).
		WithStack(stack.Capture(0))
	emit(pipe, rec, corrID)
}

// emit enqueues a record on a background context with the chain ID set
// explicitly, so a client disconnect cannot cost the request its records.
// Rejections during shutdown are dropped.
func emit(pipe *pipeline.Pipeline, rec *pipeline.Record, corrID string) {
	if corrID != "" {
		rec.WithCorrelation(corrID)
	}
	_ = pipe.Enqueue(context.Background(), rec)
}

// stringify renders a panic value without re-panicking on exotic types.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
