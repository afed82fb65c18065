// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestExceptionHandler_ObserveOnlyRepanics(t *testing.T) {
	p, sink := newTestPipeline(t)
	boom := errors.New("wiring fault")
	handler := ExceptionHandler(DefaultConfig(), p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(boom)
	}))

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/act", nil))
	}()
	_ = p.Close()

	if recovered == nil {
		t.Fatal("observe-only handler must re-raise the panic")
	}
	if err, ok := recovered.(error); !ok || err != boom {
		t.Fatalf("recovered = %v, want the original panic value", recovered)
	}

	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("record count = %d, want one exception record", len(recs))
	}
	rec := recs[0]
	if !strings.Contains(rec.Message, "exception") || !strings.Contains(rec.Message, "system") {
		t.Errorf("exception record = %q", rec.Message)
	}
	if rec.Error == nil || rec.Error.Stack == "" {
		t.Error("exception record missing stack")
	}
}

func TestExceptionHandler_RewriteWritesClassifiedResponse(t *testing.T) {
	p, _ := newTestPipeline(t)
	cfg := DefaultConfig()
	cfg.RewriteErrors = true
	handler := ExceptionHandler(cfg, p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(fmt.Errorf("lookup user 7: %w", ErrNotFound))
	}))

	rr := httptest.NewRecorder()
	// Must not panic out of ServeHTTP in rewrite mode.
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users/7", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q, want JSON", ct)
	}

	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Kind != string(KindNotFound) {
		t.Errorf("kind = %q, want not_found", body.Kind)
	}
	if body.Error != "The requested resource was not found." {
		t.Errorf("message = %q", body.Error)
	}
	if strings.Contains(rr.Body.String(), "lookup user 7") {
		t.Error("rewrite leaked the internal error text")
	}
}

func TestExceptionHandler_ComposedWithRequestLogger(t *testing.T) {
	p, sink := newTestPipeline(t)
	cfg := DefaultConfig()
	cfg.RewriteErrors = true

	inner := RequestLogger(cfg, p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial output"))
		panic("mid-write failure")
	}))
	handler := ExceptionHandler(cfg, p, nil)(inner)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"sku":"A1"}`))
	handler.ServeHTTP(rr, req)
	_ = p.Close()

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "partial output") {
		t.Error("buffered handler output leaked into the rewritten response")
	}

	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	corrID := rr.Header().Get("X-Correlation-Id")
	if corrID == "" || body.CorrelationID != corrID {
		t.Errorf("body correlation = %q, header = %q, want matching", body.CorrelationID, corrID)
	}

	var sawRequest, sawPanic, sawException, sawResponse bool
	for _, rec := range sink.Records() {
		switch {
		case strings.Contains(rec.Message, "received"):
			sawRequest = true
		case strings.Contains(rec.Message, "panicked"):
			sawPanic = true
		case strings.Contains(rec.Message, "exception"):
			sawException = true
		case strings.Contains(rec.Message, "completed"):
			sawResponse = true
		}
		if rec.CorrelationID != corrID {
			t.Errorf("record correlation = %q, want %q: %q", rec.CorrelationID, corrID, rec.Message)
		}
	}
	if !sawRequest || !sawPanic || !sawException {
		t.Errorf("records = %v, want request + panic + exception", sink.Messages())
	}
	if sawResponse {
		t.Error("panicked request must not emit a completion record")
	}
}

func TestExceptionHandler_AbortHandlerPassesThrough(t *testing.T) {
	p, sink := newTestPipeline(t)
	handler := ExceptionHandler(DefaultConfig(), p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream", nil))
	}()
	_ = p.Close()

	if recovered != http.ErrAbortHandler {
		t.Fatalf("recovered = %v, want http.ErrAbortHandler untouched", recovered)
	}
	if sink.Len() != 0 {
		t.Errorf("deliberate abort produced %d records", sink.Len())
	}
}

func TestExceptionHandler_NoPanicNoRecords(t *testing.T) {
	p, sink := newTestPipeline(t)
	handler := ExceptionHandler(DefaultConfig(), p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))
	_ = p.Close()

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if sink.Len() != 0 {
		t.Errorf("clean request produced %d exception records", sink.Len())
	}
}

func TestPanicError(t *testing.T) {
	sentinel := errors.New("typed")
	if got := panicError(sentinel); got != sentinel {
		t.Errorf("error panic value must pass through, got %v", got)
	}
	if got := panicError(42); got.Error() != "panic: 42" {
		t.Errorf("non-error panic = %q, want panic: 42", got.Error())
	}
}
