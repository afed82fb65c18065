// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package instrument

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/logging"
	"github.com/mverrier/vigil/metrics"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// ============================================================================
// Circuit breaker settings
// ============================================================================

const (
	// breakerMaxRequests allows a few probes through while half-open.
	breakerMaxRequests = 3

	// breakerInterval is the cyclic period for clearing counts while closed.
	breakerInterval = time.Minute

	// breakerTimeout is how long the breaker stays open before probing.
	breakerTimeout = 2 * time.Minute

	// breakerMinRequests is the minimum sample size before tripping.
	breakerMinRequests = 10

	// breakerFailureRate is the failure ratio that trips the breaker.
	breakerFailureRate = 0.6
)

// ============================================================================
// Transport
// ============================================================================

// Transport is an http.RoundTripper that instruments outbound requests:
// structured records with redacted URLs, duration metrics, slow-call
// warnings, and an optional circuit breaker in front of the base transport.
//
// Wrap a client with it once at construction:
//
//	client := &http.Client{
//		Transport: instrument.NewTransport("billing", opts, true, nil, pipe, redactor),
//		Timeout:   10 * time.Second,
//	}
//
// Transport is immutable after construction and safe for concurrent use.
type Transport struct {
	name     string
	opts     Options
	base     http.RoundTripper
	pipe     *pipeline.Pipeline
	redactor *redact.Redactor
	breaker  *gobreaker.CircuitBreaker[*http.Response]
}

// NewTransport creates an instrumented transport named after the upstream
// it talks to. The name labels records and breaker metrics, so use one
// Transport per logical upstream rather than one shared by all clients.
//
// A nil base falls back to http.DefaultTransport. A zero SlowThreshold
// defaults to 2s. The breaker is structural: it guards the upstream even
// when Options.Enabled turns record emission off.
func NewTransport(name string, opts Options, withBreaker bool, base http.RoundTripper, pipe *pipeline.Pipeline, redactor *redact.Redactor) *Transport {
	if name == "" {
		name = "outbound"
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if redactor == nil {
		redactor = redact.New(redact.Options{})
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = defaultSlowHTTPClient
	}
	if opts.MaxValueLength <= 0 {
		opts.MaxValueLength = defaultMaxValueLength
	}

	t := &Transport{
		name:     name,
		opts:     opts,
		base:     base,
		pipe:     pipe,
		redactor: redactor,
	}
	if withBreaker {
		t.breaker = newBreaker(name)
	}
	return t
}

// Name returns the upstream label.
func (t *Transport) Name() string {
	return t.name
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.enabled() {
		return t.send(req)
	}

	ctx := req.Context()
	opID := shortID()
	target := t.view(req.URL.String())
	if t.opts.LogStart {
		t.logStart(ctx, req.Method, target, opID)
	}

	start := time.Now()
	resp, err := t.send(req)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordOperation(CategoryHTTPClient, "success", elapsed)
		if t.opts.LogResults {
			t.logResponse(ctx, req.Method, target, opID, resp.StatusCode, elapsed)
		}
		if t.opts.SlowThreshold > 0 && elapsed > t.opts.SlowThreshold {
			metrics.RecordSlowOperation(CategoryHTTPClient)
			t.logSlow(ctx, req.Method, target, opID, elapsed)
		}
	case isCancellation(ctx, err):
		metrics.RecordOperation(CategoryHTTPClient, "cancelled", elapsed)
		t.logCancelled(ctx, req.Method, target, opID, elapsed)
	default:
		metrics.RecordOperation(CategoryHTTPClient, "error", elapsed)
		t.logError(ctx, req.Method, target, opID, elapsed, err)
	}

	return resp, err
}

// enabled reports whether this transport emits records and metrics.
func (t *Transport) enabled() bool {
	return t.opts.Enabled && t.pipe != nil
}

// send performs the request through the breaker when one is configured.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if t.breaker == nil {
		return t.base.RoundTrip(req)
	}

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		return t.base.RoundTrip(req)
	})

	switch {
	case err == nil:
		metrics.RecordCircuitBreakerRequest(t.name, "success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordCircuitBreakerRequest(t.name, "rejected")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.RecordCircuitBreakerRequest(t.name, "cancelled")
	default:
		metrics.RecordCircuitBreakerRequest(t.name, "failure")
	}
	return resp, err
}

// ============================================================================
// Record emission
// ============================================================================

func (t *Transport) logStart(ctx context.Context, method, target, opID string) {
	rec := pipeline.NewRecord(zerolog.DebugLevel,
		"{category} {method} {target} started [{op_id}]").
		With("category", CategoryHTTPClient).
		With("method", method).
		With("target", target).
		With("op_id", opID)
	t.emit(ctx, rec)
}

func (t *Transport) logResponse(ctx context.Context, method, target, opID string, status int, elapsed time.Duration) {
	// Upstream 5xx is a successful round trip but worth surfacing.
	level := zerolog.DebugLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}
	rec := pipeline.NewRecord(level,
		"{category} {method} {target} completed [{op_id}]: status {status} in {elapsed_ms}ms").
		With("category", CategoryHTTPClient).
		With("method", method).
		With("target", target).
		With("op_id", opID).
		With("status", status).
		With("elapsed_ms", millis(elapsed))
	t.emit(ctx, rec)
}

func (t *Transport) logSlow(ctx context.Context, method, target, opID string, elapsed time.Duration) {
	rec := pipeline.NewRecord(zerolog.WarnLevel,
		"{category} {method} {target} slow [{op_id}]: {elapsed_ms}ms exceeded {threshold_ms}ms").
		With("category", CategoryHTTPClient).
		With("method", method).
		With("target", target).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed)).
		With("threshold_ms", t.opts.SlowThreshold.Milliseconds())
	t.emit(ctx, rec)
}

func (t *Transport) logCancelled(ctx context.Context, method, target, opID string, elapsed time.Duration) {
	rec := pipeline.NewRecord(zerolog.InfoLevel,
		"{category} {method} {target} cancelled [{op_id}] after {elapsed_ms}ms").
		With("category", CategoryHTTPClient).
		With("method", method).
		With("target", target).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed))
	t.emit(ctx, rec)
}

func (t *Transport) logError(ctx context.Context, method, target, opID string, elapsed time.Duration, err error) {
	rec := pipeline.NewRecord(zerolog.ErrorLevel,
		"{category} {method} {target} failed [{op_id}] after {elapsed_ms}ms: {error_type}: {error}").
		With("category", CategoryHTTPClient).
		With("method", method).
		With("target", target).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed)).
		With("error_type", fmt.Sprintf("%T", err)).
		With("error", t.redactor.Mask(err.Error()))
	t.emit(ctx, rec)
}

// emit mirrors Tracer.emit: background enqueue, explicit chain ID.
func (t *Transport) emit(ctx context.Context, rec *pipeline.Record) {
	if id := correlation.ID(ctx); id != "" {
		rec.WithCorrelation(id)
	}
	_ = t.pipe.Enqueue(context.Background(), rec)
}

// view redacts and crops a URL or detail string. Query values run through
// the field rules, so ?token=... never reaches a record verbatim.
func (t *Transport) view(s string) string {
	return redact.Crop(t.redactor.Mask(s), t.opts.MaxValueLength)
}

// ============================================================================
// Circuit breaker
// ============================================================================

// newBreaker builds the breaker guarding one upstream. Counts clear every
// minute while closed; at sixty percent failures over at least ten requests
// the breaker opens for two minutes, then allows three probes half-open.
func newBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	metrics.SetCircuitBreakerState(name, stateToInt(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRate < breakerFailureRate {
				return false
			}
			lg := logging.WithComponent("instrument")
			lg.Warn().
				Str("breaker", name).
				Uint32("requests", counts.Requests).
				Uint32("failures", counts.TotalFailures).
				Float64("failure_rate", failureRate).
				Msg("circuit breaker tripping")
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg := logging.WithComponent("instrument")
			lg.Info().
				Str("breaker", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state change")
			metrics.SetCircuitBreakerState(name, stateToInt(to))
		},
		IsSuccessful: func(err error) bool {
			// Caller-side cancellation says nothing about upstream
			// health; a deadline blown on a slow upstream does.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// stateToInt converts a breaker state to its gauge value.
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
