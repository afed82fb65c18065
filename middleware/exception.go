// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package middleware

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/internal/stack"
	"github.com/mverrier/vigil/metrics"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// errorResponse is the generic body written when RewriteErrors is on.
// Deliberately free of internals: the classified message, the kind for
// client-side branching, and the correlation ID for support tickets.
type errorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ExceptionHandler returns the panic capture middleware. Install it
// outermost: it recovers whatever the inner chain throws, classifies it,
// logs the full context through the redactor, and then either rewrites
// the response (RewriteErrors on) or re-raises the panic unchanged so the
// host's own recovery still runs.
//
// http.ErrAbortHandler passes through untouched in both modes; it is
// net/http's deliberate-abort sentinel, not a failure.
func ExceptionHandler(cfg Config, pipe *pipeline.Pipeline, redactor *redact.Redactor) func(http.Handler) http.Handler {
	cfg = cfg.normalized()
	if redactor == nil {
		redactor = redact.New(redact.Options{})
	}
	if !cfg.Enabled || pipe == nil {
		return passthrough
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				value := recover()
				if value == nil {
					return
				}
				if value == http.ErrAbortHandler {
					panic(value)
				}

				cls := Classify(panicError(value))
				corrID, reqID := chainIDs(cfg, w, r)
				logException(pipe, redactor, r, corrID, reqID, value, cls)
				metrics.RecordException(string(cls.Kind), cls.Severity)

				if !cfg.RewriteErrors {
					panic(value)
				}
				writeErrorResponse(w, cls, corrID)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// panicError views a panic value as an error for classification.
func panicError(value interface{}) error {
	if err, ok := value.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", value)
}

// chainIDs recovers the correlation and request IDs for an exception
// record. This middleware sits outside RequestLogger, so its request
// context never saw the inner resolution; the echoed response headers
// carry the resolved values. Falls back to the context and the inbound
// header when composed without RequestLogger.
func chainIDs(cfg Config, w http.ResponseWriter, r *http.Request) (string, string) {
	corrID := w.Header().Get(cfg.CorrelationHeader)
	if corrID == "" {
		corrID = correlation.ID(r.Context())
	}
	if corrID == "" {
		corrID = r.Header.Get(cfg.CorrelationHeader)
	}
	reqID := w.Header().Get(cfg.RequestIDHeader)
	if reqID == "" {
		reqID = correlation.RequestID(r.Context())
	}
	return corrID, reqID
}

func logException(pipe *pipeline.Pipeline, redactor *redact.Redactor, r *http.Request, corrID, reqID string, value interface{}, cls Classification) {
	rec := pipeline.NewRecord(zerolog.ErrorLevel,
		"http {method} {path} exception [{request_id}]: {kind} severity={severity} status={status} alert={alert}: {panic} headers={headers}").
		With("method", r.Method).
		With("path", r.URL.Path).
		With("request_id", reqID).
		With("kind", string(cls.Kind)).
		With("severity", cls.Severity).
		With("status", cls.Status).
		With("alert", cls.Alert).
		With("panic", redactor.Mask(stringify(value))).
		With("headers", redactor.MaskHeaders(r.Header)).
		WithStack(stack.Capture(0))
	emit(pipe, rec, corrID)
}

// writeErrorResponse replaces the response with the classified status and
// a generic JSON body. Composed with RequestLogger's buffering writer the
// partial handler output was never sent, so this is a clean replacement.
func writeErrorResponse(w http.ResponseWriter, cls Classification, corrID string) {
	body, err := json.Marshal(errorResponse{
		Error:         cls.Message,
		Kind:          string(cls.Kind),
		CorrelationID: corrID,
	})
	if err != nil {
		http.Error(w, cls.Message, cls.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(cls.Status)
	_, _ = w.Write(body)
}
