// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Context keys are unexported types so no other package can collide.
type contextKey string

const (
	// correlationIDKey carries the per-chain correlation ID.
	correlationIDKey contextKey = "correlation_id"

	// requestIDKey carries the per-request ID at HTTP boundaries.
	requestIDKey contextKey = "request_id"
)

// Generate creates a new unique correlation ID.
// Returns the first 8 characters of a UUID for log readability.
func Generate() string {
	return uuid.New().String()[:8]
}

// GenerateRequestID creates a new unique request ID.
// Returns a full UUID for uniqueness across distributed systems.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ID retrieves the correlation ID from ctx.
// Returns empty string if none is attached.
func ID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// With returns a context carrying the given correlation ID.
// An empty id behaves like fresh generation, so callers adopting an inbound
// header value can pass it through without checking it first.
func With(ctx context.Context, id string) context.Context {
	if id == "" {
		id = Generate()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// Ensure returns a context that is guaranteed to carry a correlation ID,
// along with the ID itself. If ctx already carries one it is returned
// unchanged; otherwise a fresh ID is generated and attached.
// Never returns an empty ID.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := Generate()
	return context.WithValue(ctx, correlationIDKey, id), id
}

// Strip returns a context without a correlation ID. A subsequent Ensure
// mints a fresh one. Boundaries that reuse contexts across logical chains
// call this when a chain completes.
func Strip(ctx context.Context) context.Context {
	if ID(ctx) == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, "")
}

// RequestID retrieves the request ID from ctx.
// Returns empty string if none is attached.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID returns a context carrying the given request ID.
// An empty id behaves like fresh generation.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = GenerateRequestID()
	}
	return context.WithValue(ctx, requestIDKey, id)
}
