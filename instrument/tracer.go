// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/metrics"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// ============================================================================
// Categories
// ============================================================================

// Operation categories. They label records and metrics so one dashboard
// query can separate database time from cache time.
const (
	CategoryDatabase   = "database"
	CategoryCache      = "cache"
	CategoryJobs       = "job"
	CategoryHTTPClient = "http_client"
)

// Per-category slow thresholds applied when Options.SlowThreshold is zero.
const (
	defaultSlowDatabase   = 500 * time.Millisecond
	defaultSlowCache      = 100 * time.Millisecond
	defaultSlowJobs       = 30 * time.Second
	defaultSlowHTTPClient = 2 * time.Second
)

// defaultMaxValueLength bounds detail and result views in records.
const defaultMaxValueLength = 512

// ============================================================================
// Options
// ============================================================================

// Options controls one tracer category. The zero value is a disabled tracer;
// use DefaultOptions or the config package to get a live one.
type Options struct {
	// Enabled turns the category on. A disabled tracer is a pure
	// passthrough: no records, no metrics, no overhead beyond one branch.
	Enabled bool `koanf:"enabled"`

	// LogStart emits a record when an operation begins.
	LogStart bool `koanf:"log_start"`

	// LogResults emits a completion record with elapsed time and a
	// redacted view of the result when an operation succeeds.
	LogResults bool `koanf:"log_results"`

	// IncludeCommandText attaches the operation's detail text (SQL,
	// cache key pattern, job arguments) to error records. Off by default
	// because command text is the most likely place for secrets to hide.
	IncludeCommandText bool `koanf:"include_command_text"`

	// SlowThreshold triggers a warning record when a successful operation
	// takes longer. Zero means the category default.
	SlowThreshold time.Duration `koanf:"slow_threshold"`

	// MaxValueLength caps detail and result views after redaction.
	// Zero means 512.
	MaxValueLength int `koanf:"max_value_length" validate:"omitempty,min=1"`
}

// DefaultOptions returns a fully enabled tracer configuration with the
// database slow threshold. The category constructors override the
// threshold with their own defaults when it is left zero.
func DefaultOptions() Options {
	return Options{
		Enabled:        true,
		LogStart:       true,
		LogResults:     true,
		SlowThreshold:  defaultSlowDatabase,
		MaxValueLength: defaultMaxValueLength,
	}
}

// ============================================================================
// Tracer
// ============================================================================

// Tracer wraps operations of one category with timing, structured records,
// and metrics. All categories share this engine; they differ only in label
// and default slow threshold.
//
// A Tracer is immutable after construction and safe for concurrent use.
type Tracer struct {
	category string
	opts     Options
	pipe     *pipeline.Pipeline
	redactor *redact.Redactor
}

// New creates a tracer for an arbitrary category. Most callers want
// NewDatabase, NewCache, or NewJobs instead.
//
// A nil redactor falls back to the default rule set. A nil pipeline
// disables the tracer.
func New(category string, opts Options, pipe *pipeline.Pipeline, redactor *redact.Redactor) *Tracer {
	if redactor == nil {
		redactor = redact.New(redact.Options{})
	}
	if opts.MaxValueLength <= 0 {
		opts.MaxValueLength = defaultMaxValueLength
	}
	return &Tracer{
		category: category,
		opts:     opts,
		pipe:     pipe,
		redactor: redactor,
	}
}

// NewDatabase creates a tracer for database operations.
// A zero SlowThreshold defaults to 500ms.
func NewDatabase(opts Options, pipe *pipeline.Pipeline, redactor *redact.Redactor) *Tracer {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = defaultSlowDatabase
	}
	return New(CategoryDatabase, opts, pipe, redactor)
}

// NewCache creates a tracer for cache operations.
// A zero SlowThreshold defaults to 100ms.
func NewCache(opts Options, pipe *pipeline.Pipeline, redactor *redact.Redactor) *Tracer {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = defaultSlowCache
	}
	return New(CategoryCache, opts, pipe, redactor)
}

// NewJobs creates a tracer for background job execution.
// A zero SlowThreshold defaults to 30s.
func NewJobs(opts Options, pipe *pipeline.Pipeline, redactor *redact.Redactor) *Tracer {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = defaultSlowJobs
	}
	return New(CategoryJobs, opts, pipe, redactor)
}

// Category returns the tracer's category label.
func (t *Tracer) Category() string {
	return t.category
}

// Enabled reports whether the tracer emits anything.
func (t *Tracer) Enabled() bool {
	return t != nil && t.opts.Enabled && t.pipe != nil
}

// Run instruments an operation that produces no result value.
func (t *Tracer) Run(ctx context.Context, operation, detail string, fn func(context.Context) error) error {
	_, err := Do(ctx, t, operation, detail, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ============================================================================
// Do
// ============================================================================

// Do runs fn under the tracer's instrumentation and returns its result and
// error unchanged. The error is never wrapped, so errors.Is and errors.As
// work exactly as they would on the bare call.
//
// Outcome handling:
//   - success: completion record (when LogResults), plus a warning record
//     when elapsed time exceeds the slow threshold
//   - cancellation via ctx: a cancelled record, not an error record
//   - any other error: exactly one error record
//
// A nil or disabled tracer makes Do a pure passthrough.
func Do[T any](ctx context.Context, t *Tracer, operation, detail string, fn func(context.Context) (T, error)) (T, error) {
	if !t.Enabled() {
		return fn(ctx)
	}

	opID := shortID()
	if t.opts.LogStart {
		t.logStart(ctx, operation, opID, detail)
	}

	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordOperation(t.category, "success", elapsed)
		if t.opts.LogResults {
			t.logSuccess(ctx, operation, opID, elapsed, result)
		}
		if t.opts.SlowThreshold > 0 && elapsed > t.opts.SlowThreshold {
			metrics.RecordSlowOperation(t.category)
			t.logSlow(ctx, operation, opID, elapsed)
		}
	case isCancellation(ctx, err):
		metrics.RecordOperation(t.category, "cancelled", elapsed)
		t.logCancelled(ctx, operation, opID, elapsed)
	default:
		metrics.RecordOperation(t.category, "error", elapsed)
		t.logError(ctx, operation, opID, elapsed, err, detail)
	}

	return result, err
}

// ============================================================================
// Record emission
// ============================================================================

func (t *Tracer) logStart(ctx context.Context, operation, opID, detail string) {
	template := "{category} {operation} started [{op_id}]"
	if detail != "" {
		template += " {detail}"
	}
	rec := pipeline.NewRecord(zerolog.DebugLevel, template).
		With("category", t.category).
		With("operation", operation).
		With("op_id", opID)
	if detail != "" {
		rec.With("detail", t.view(detail))
	}
	t.emit(ctx, rec)
}

func (t *Tracer) logSuccess(ctx context.Context, operation, opID string, elapsed time.Duration, result interface{}) {
	template := "{category} {operation} completed [{op_id}] in {elapsed_ms}ms success={success}"
	view := t.resultView(result)
	if view != "" {
		template += ": {result}"
	}
	rec := pipeline.NewRecord(zerolog.DebugLevel, template).
		With("category", t.category).
		With("operation", operation).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed)).
		With("success", true)
	if view != "" {
		rec.With("result", view)
	}
	t.emit(ctx, rec)
}

func (t *Tracer) logSlow(ctx context.Context, operation, opID string, elapsed time.Duration) {
	rec := pipeline.NewRecord(zerolog.WarnLevel,
		"{category} {operation} slow [{op_id}]: {elapsed_ms}ms exceeded {threshold_ms}ms").
		With("category", t.category).
		With("operation", operation).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed)).
		With("threshold_ms", t.opts.SlowThreshold.Milliseconds())
	t.emit(ctx, rec)
}

func (t *Tracer) logCancelled(ctx context.Context, operation, opID string, elapsed time.Duration) {
	rec := pipeline.NewRecord(zerolog.InfoLevel,
		"{category} {operation} cancelled [{op_id}] after {elapsed_ms}ms").
		With("category", t.category).
		With("operation", operation).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed))
	t.emit(ctx, rec)
}

func (t *Tracer) logError(ctx context.Context, operation, opID string, elapsed time.Duration, err error, detail string) {
	withText := t.opts.IncludeCommandText && detail != ""
	template := "{category} {operation} failed [{op_id}] after {elapsed_ms}ms: {error_type}: {error}"
	if withText {
		template += " {detail}"
	}
	rec := pipeline.NewRecord(zerolog.ErrorLevel, template).
		With("category", t.category).
		With("operation", operation).
		With("op_id", opID).
		With("elapsed_ms", millis(elapsed)).
		With("error_type", fmt.Sprintf("%T", err)).
		With("error", t.redactor.Mask(err.Error()))
	if withText {
		rec.With("detail", t.view(detail))
	}
	t.emit(ctx, rec)
}

// emit hands a record to the pipeline. The enqueue rides a background
// context so a cancelled operation still gets its completion record
// through; the chain ID is carried over from the caller's context
// explicitly. Rejections during shutdown are dropped.
func (t *Tracer) emit(ctx context.Context, rec *pipeline.Record) {
	if id := correlation.ID(ctx); id != "" {
		rec.WithCorrelation(id)
	}
	_ = t.pipe.Enqueue(context.Background(), rec)
}

// view redacts and crops free-form detail text.
func (t *Tracer) view(s string) string {
	return redact.Crop(t.redactor.Mask(s), t.opts.MaxValueLength)
}

// resultView renders a redacted, cropped view of an operation result.
// Empty results and the no-result sentinel produce no view at all.
func (t *Tracer) resultView(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case struct{}:
		return ""
	case string:
		return t.view(v)
	default:
		return t.view(fmt.Sprint(v))
	}
}

// ============================================================================
// Helpers
// ============================================================================

// isCancellation reports whether err is the caller's context giving up
// rather than the operation itself failing. A driver's internal timeout
// error with a live context still counts as a real failure.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// shortID returns an 8-character operation ID, enough to pair start and
// completion records within one correlation chain.
func shortID() string {
	return uuid.New().String()[:8]
}

// millis converts a duration to fractional milliseconds for record
// properties.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
