// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/pipeline"
)

// newTestPipeline returns a small, fast pipeline backed by a capture sink.
// Tests close the pipeline before asserting so every record has flushed.
func newTestPipeline(t *testing.T) (*pipeline.Pipeline, *pipeline.CaptureSink) {
	t.Helper()
	sink := pipeline.NewCaptureSink()
	p := pipeline.New(pipeline.Config{
		AppName:       "vigil-test",
		QueueCapacity: 128,
		BatchSize:     16,
		FlushInterval: 5 * time.Millisecond,
	}, sink)
	t.Cleanup(func() { _ = p.Close() })
	return p, sink
}

// enabledOptions is the everything-on tracer configuration tests start from.
func enabledOptions() Options {
	return Options{Enabled: true, LogStart: true, LogResults: true}
}

func TestDo_SuccessEmitsStartAndCompletion(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewDatabase(enabledOptions(), p, nil)

	got, err := Do(context.Background(), tr, "load_users", "SELECT id, name FROM users",
		func(ctx context.Context) (int, error) {
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if got != 42 {
		t.Fatalf("result = %d, want 42", got)
	}
	_ = p.Close()

	msgs := sink.Messages()
	if len(msgs) != 2 {
		t.Fatalf("record count = %d, want 2: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "database load_users started") {
		t.Errorf("start record = %q, want operation and category", msgs[0])
	}
	if !strings.Contains(msgs[0], "SELECT id, name FROM users") {
		t.Errorf("start record = %q, want detail text", msgs[0])
	}
	if !strings.Contains(msgs[1], "database load_users completed") {
		t.Errorf("completion record = %q, want completion", msgs[1])
	}
	if !strings.Contains(msgs[1], "success=true") {
		t.Errorf("completion record = %q, want success flag", msgs[1])
	}
	if !strings.Contains(msgs[1], ": 42") {
		t.Errorf("completion record = %q, want result view", msgs[1])
	}

	recs := sink.Records()
	if recs[0].Level != zerolog.DebugLevel || recs[1].Level != zerolog.DebugLevel {
		t.Errorf("levels = %v/%v, want debug/debug", recs[0].Level, recs[1].Level)
	}
	start, _ := recs[0].Property("op_id")
	done, _ := recs[1].Property("op_id")
	if start == nil || start != done {
		t.Errorf("op_id mismatch: start %v, completion %v", start, done)
	}
}

func TestDo_ErrorEmitsExactlyOneErrorRecord(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewDatabase(enabledOptions(), p, nil)

	sentinel := errors.New("connection refused")
	_, err := Do(context.Background(), tr, "get_user", "SELECT * FROM users WHERE id = $1",
		func(ctx context.Context) (*struct{}, error) {
			return nil, sentinel
		})
	if err != sentinel {
		t.Fatalf("error = %v, want the original error unchanged", err)
	}
	if !errors.Is(err, sentinel) {
		t.Fatal("errors.Is must match the original error")
	}
	_ = p.Close()

	recs := sink.Records()
	if len(recs) != 2 {
		t.Fatalf("record count = %d, want start + error", len(recs))
	}

	var errorRecs []pipeline.CapturedRecord
	for _, rec := range recs {
		if rec.Level == zerolog.ErrorLevel {
			errorRecs = append(errorRecs, rec)
		}
	}
	if len(errorRecs) != 1 {
		t.Fatalf("error record count = %d, want exactly 1", len(errorRecs))
	}

	errRec := errorRecs[0]
	if !strings.Contains(errRec.Message, "database get_user failed") {
		t.Errorf("error record = %q, want failure message", errRec.Message)
	}
	if !strings.Contains(errRec.Message, "connection refused") {
		t.Errorf("error record = %q, want error message", errRec.Message)
	}
	if !strings.Contains(errRec.Message, "*errors.errorString") {
		t.Errorf("error record = %q, want error type", errRec.Message)
	}
	if _, ok := errRec.Property("detail"); ok {
		t.Error("command text attached without IncludeCommandText")
	}
	if strings.Contains(errRec.Message, "SELECT") {
		t.Errorf("error record = %q, command text leaked", errRec.Message)
	}
}

func TestDo_CancellationEmitsCancelledRecord(t *testing.T) {
	t.Run("cancel", func(t *testing.T) {
		p, sink := newTestPipeline(t)
		tr := NewDatabase(enabledOptions(), p, nil)

		ctx, cancel := context.WithCancel(context.Background())
		_, err := Do(ctx, tr, "long_query", "",
			func(ctx context.Context) (struct{}, error) {
				cancel()
				return struct{}{}, ctx.Err()
			})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
		_ = p.Close()

		assertCancelledOutcome(t, sink, "long_query")
	})

	t.Run("deadline", func(t *testing.T) {
		p, sink := newTestPipeline(t)
		tr := NewDatabase(enabledOptions(), p, nil)

		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		_, err := Do(ctx, tr, "long_query", "",
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, ctx.Err()
			})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("error = %v, want context.DeadlineExceeded", err)
		}
		_ = p.Close()

		assertCancelledOutcome(t, sink, "long_query")
	})
}

// assertCancelledOutcome checks that the outcome record is an informational
// cancellation and that it arrived despite the caller's dead context.
func assertCancelledOutcome(t *testing.T, sink *pipeline.CaptureSink, operation string) {
	t.Helper()
	recs := sink.Records()
	if len(recs) != 2 {
		t.Fatalf("record count = %d, want start + cancelled", len(recs))
	}
	out := recs[1]
	if out.Level != zerolog.InfoLevel {
		t.Errorf("cancelled record level = %v, want info", out.Level)
	}
	if !strings.Contains(out.Message, operation+" cancelled") {
		t.Errorf("cancelled record = %q, want cancellation message", out.Message)
	}
	if strings.Contains(out.Message, "failed") {
		t.Errorf("cancelled record = %q, must not look like a failure", out.Message)
	}
}

func TestDo_DriverTimeoutWithLiveContextIsError(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewDatabase(enabledOptions(), p, nil)

	// The driver gives up on its own; the caller's context is still live.
	_, err := Do(context.Background(), tr, "get_user", "",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, context.DeadlineExceeded
		})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	_ = p.Close()

	recs := sink.Records()
	if len(recs) != 2 {
		t.Fatalf("record count = %d, want 2", len(recs))
	}
	if recs[1].Level != zerolog.ErrorLevel {
		t.Errorf("outcome level = %v, want error", recs[1].Level)
	}
}

func TestDo_DisabledIsPurePassthrough(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewDatabase(Options{}, p, nil)

	called := false
	got, err := Do(context.Background(), tr, "op", "detail",
		func(ctx context.Context) (string, error) {
			called = true
			return "value", nil
		})
	if err != nil || got != "value" {
		t.Fatalf("passthrough = (%q, %v), want (value, nil)", got, err)
	}
	if !called {
		t.Fatal("wrapped function not called")
	}
	_ = p.Close()
	if sink.Len() != 0 {
		t.Fatalf("disabled tracer emitted %d records", sink.Len())
	}
}

func TestDo_NilTracerIsSafe(t *testing.T) {
	var tr *Tracer
	got, err := Do(context.Background(), tr, "op", "",
		func(ctx context.Context) (int, error) {
			return 7, nil
		})
	if err != nil || got != 7 {
		t.Fatalf("nil tracer = (%d, %v), want (7, nil)", got, err)
	}
	if err := tr.Run(context.Background(), "op", "", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("nil tracer Run = %v, want nil", err)
	}
}

func TestDo_SlowOperationWarns(t *testing.T) {
	p, sink := newTestPipeline(t)
	opts := enabledOptions()
	opts.SlowThreshold = time.Nanosecond
	tr := NewDatabase(opts, p, nil)

	_, err := Do(context.Background(), tr, "big_scan", "",
		func(ctx context.Context) (struct{}, error) {
			time.Sleep(time.Millisecond)
			return struct{}{}, nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	_ = p.Close()

	recs := sink.Records()
	if len(recs) != 3 {
		t.Fatalf("record count = %d, want start + completion + slow", len(recs))
	}
	slow := recs[2]
	if slow.Level != zerolog.WarnLevel {
		t.Errorf("slow record level = %v, want warn", slow.Level)
	}
	if !strings.Contains(slow.Message, "big_scan slow") || !strings.Contains(slow.Message, "exceeded") {
		t.Errorf("slow record = %q, want threshold message", slow.Message)
	}
}

func TestDo_StartAndResultToggles(t *testing.T) {
	tests := []struct {
		name       string
		logStart   bool
		logResults bool
		fail       bool
		want       int
	}{
		{"start only", true, false, false, 1},
		{"results only", false, true, false, 1},
		{"neither on success", false, false, false, 0},
		{"errors always logged", false, false, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sink := newTestPipeline(t)
			tr := NewDatabase(Options{
				Enabled:    true,
				LogStart:   tt.logStart,
				LogResults: tt.logResults,
			}, p, nil)

			_, _ = Do(context.Background(), tr, "op", "",
				func(ctx context.Context) (struct{}, error) {
					if tt.fail {
						return struct{}{}, errors.New("boom")
					}
					return struct{}{}, nil
				})
			_ = p.Close()

			if got := sink.Len(); got != tt.want {
				t.Errorf("record count = %d, want %d: %v", got, tt.want, sink.Messages())
			}
		})
	}
}

func TestDo_RedactsDetailAndResult(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewDatabase(enabledOptions(), p, nil)

	_, err := Do(context.Background(), tr, "login", `{"user":"ada","password":"hunter2"}`,
		func(ctx context.Context) (string, error) {
			return "token=tk_9f8e7d6c&expires=3600", nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	_ = p.Close()

	recs := sink.Records()
	detail, ok := recs[0].Property("detail")
	if !ok {
		t.Fatal("start record missing detail property")
	}
	if s := detail.(string); !strings.Contains(s, `"password":"***"`) || strings.Contains(s, "hunter2") {
		t.Errorf("detail = %q, want password masked", s)
	}
	if s := detail.(string); !strings.Contains(s, "ada") {
		t.Errorf("detail = %q, non-sensitive fields must survive", s)
	}

	result, ok := recs[1].Property("result")
	if !ok {
		t.Fatal("completion record missing result property")
	}
	if s := result.(string); !strings.Contains(s, "token=***") || strings.Contains(s, "tk_9f8e7d6c") {
		t.Errorf("result = %q, want token masked", s)
	}
}

func TestDo_CommandTextOnErrorWhenConfigured(t *testing.T) {
	p, sink := newTestPipeline(t)
	opts := enabledOptions()
	opts.IncludeCommandText = true
	tr := NewDatabase(opts, p, nil)

	_, _ = Do(context.Background(), tr, "update_user", "UPDATE users SET password=hunter2 WHERE id=7",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, errors.New("syntax error")
		})
	_ = p.Close()

	recs := sink.Records()
	errRec := recs[len(recs)-1]
	detail, ok := errRec.Property("detail")
	if !ok {
		t.Fatal("error record missing command text with IncludeCommandText")
	}
	if s := detail.(string); !strings.Contains(s, "password=***") || strings.Contains(s, "hunter2") {
		t.Errorf("command text = %q, want password masked", s)
	}
	if !strings.Contains(errRec.Message, "UPDATE users") {
		t.Errorf("error record = %q, want command text rendered", errRec.Message)
	}
}

func TestDo_CropsLongValues(t *testing.T) {
	p, sink := newTestPipeline(t)
	opts := enabledOptions()
	opts.MaxValueLength = 16
	tr := NewDatabase(opts, p, nil)

	long := strings.Repeat("x", 100)
	_, err := Do(context.Background(), tr, "bulk_insert", long,
		func(ctx context.Context) (string, error) {
			return long, nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	_ = p.Close()

	recs := sink.Records()
	for _, prop := range []string{"detail", "result"} {
		rec := recs[0]
		if prop == "result" {
			rec = recs[1]
		}
		v, ok := rec.Property(prop)
		if !ok {
			t.Fatalf("missing %s property", prop)
		}
		s := v.(string)
		if len(s) > 16+len("...") {
			t.Errorf("%s length = %d, want cropped to 16 plus marker", prop, len(s))
		}
		if !strings.HasSuffix(s, "...") {
			t.Errorf("%s = %q, want crop marker", prop, s)
		}
	}
}

func TestRun_OmitsResultView(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewCache(enabledOptions(), p, nil)

	if err := tr.Run(context.Background(), "refresh", "", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	_ = p.Close()

	msgs := sink.Messages()
	if len(msgs) != 2 {
		t.Fatalf("record count = %d, want 2", len(msgs))
	}
	if !strings.HasSuffix(msgs[1], "success=true") {
		t.Errorf("completion record = %q, want no result view", msgs[1])
	}
	if strings.Contains(msgs[1], "{}") {
		t.Errorf("completion record = %q, no-result sentinel leaked", msgs[1])
	}
}

func TestDo_CorrelationCarriedFromContext(t *testing.T) {
	p, sink := newTestPipeline(t)
	tr := NewJobs(enabledOptions(), p, nil)

	ctx := correlation.With(context.Background(), "chain-42")
	if err := tr.Run(ctx, "send_digest", "", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	_ = p.Close()

	for _, rec := range sink.Records() {
		if rec.CorrelationID != "chain-42" {
			t.Errorf("correlation ID = %q, want chain-42", rec.CorrelationID)
		}
	}
}

func TestCategoryConstructors(t *testing.T) {
	p, _ := newTestPipeline(t)

	tests := []struct {
		name     string
		tracer   *Tracer
		category string
		slow     time.Duration
	}{
		{"database", NewDatabase(Options{Enabled: true}, p, nil), CategoryDatabase, 500 * time.Millisecond},
		{"cache", NewCache(Options{Enabled: true}, p, nil), CategoryCache, 100 * time.Millisecond},
		{"jobs", NewJobs(Options{Enabled: true}, p, nil), CategoryJobs, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tracer.Category(); got != tt.category {
				t.Errorf("category = %q, want %q", got, tt.category)
			}
			if got := tt.tracer.opts.SlowThreshold; got != tt.slow {
				t.Errorf("slow threshold = %v, want %v", got, tt.slow)
			}
			if got := tt.tracer.opts.MaxValueLength; got != defaultMaxValueLength {
				t.Errorf("max value length = %d, want %d", got, defaultMaxValueLength)
			}
		})
	}

	t.Run("explicit threshold preserved", func(t *testing.T) {
		tr := NewCache(Options{Enabled: true, SlowThreshold: time.Second}, p, nil)
		if got := tr.opts.SlowThreshold; got != time.Second {
			t.Errorf("slow threshold = %v, want 1s", got)
		}
	})

	t.Run("nil pipeline disables", func(t *testing.T) {
		tr := NewDatabase(Options{Enabled: true}, nil, nil)
		if tr.Enabled() {
			t.Error("tracer with nil pipeline must be disabled")
		}
	})
}

func TestIsCancellation(t *testing.T) {
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"nil error", cancelledCtx, nil, false},
		{"canceled with live context", context.Background(), context.Canceled, false},
		{"canceled with dead context", cancelledCtx, context.Canceled, true},
		{"deadline with dead context", cancelledCtx, context.DeadlineExceeded, true},
		{"wrapped cancellation", cancelledCtx, fmt.Errorf("query: %w", context.Canceled), true},
		{"ordinary error with dead context", cancelledCtx, errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCancellation(tt.ctx, tt.err); got != tt.want {
				t.Errorf("isCancellation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := shortID()
		if len(id) != 8 {
			t.Fatalf("id length = %d, want 8: %q", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = true
	}
}

// nullSink discards records; it keeps benchmarks out of capture memory.
type nullSink struct{}

func (nullSink) EmitBatch([]*pipeline.Record) error { return nil }
func (nullSink) Emit(*pipeline.Record) error        { return nil }

func BenchmarkDo_Disabled(b *testing.B) {
	tr := NewDatabase(Options{}, nil, nil)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Do(ctx, tr, "op", "", func(context.Context) (int, error) { return 0, nil })
	}
}

func BenchmarkDo_Enabled(b *testing.B) {
	p := pipeline.New(pipeline.DefaultConfig(), nullSink{})
	defer func() { _ = p.Close() }()
	tr := NewDatabase(enabledOptions(), p, nil)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Do(ctx, tr, "op", "SELECT 1", func(context.Context) (int, error) { return 0, nil })
	}
}
