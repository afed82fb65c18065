// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mverrier/vigil/instrument"
	"github.com/mverrier/vigil/middleware"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// routerHarness wires the demo handlers to a capture-backed pipeline so
// tests can drive requests through the fully composed chi router and then
// inspect every record the request produced.
type routerHarness struct {
	handlers *demoHandlers
	cfg      middleware.Config
	pipe     *pipeline.Pipeline
	sink     *pipeline.CaptureSink
	redactor *redact.Redactor
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	sink := pipeline.NewCaptureSink()
	pipe := pipeline.New(pipeline.Config{
		AppName:       "vigil-demo-test",
		QueueCapacity: 256,
		BatchSize:     16,
		FlushInterval: 5 * time.Millisecond,
	}, sink)
	t.Cleanup(func() { _ = pipe.Close() })

	redactor := redact.New(redact.Options{})
	opts := instrument.Options{Enabled: true, LogStart: true, LogResults: true}

	cfg := middleware.DefaultConfig()
	cfg.ExcludedPaths = []string{"/healthz", "/metrics"}

	return &routerHarness{
		handlers: &demoHandlers{
			repo:  newUserRepo(),
			db:    instrument.NewDatabase(opts, pipe, redactor),
			cache: instrument.NewCache(opts, pipe, redactor),
		},
		cfg:      cfg,
		pipe:     pipe,
		sink:     sink,
		redactor: redactor,
	}
}

func (rh *routerHarness) router(metricsEnabled bool) http.Handler {
	return newRouter(rh.handlers, rh.cfg, metricsEnabled, rh.pipe, rh.redactor)
}

// message reports whether any captured record message contains substr.
func (rh *routerHarness) message(substr string) bool {
	for _, msg := range rh.sink.Messages() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func decodeBody(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func TestRouterHealthz(t *testing.T) {
	rh := newRouterHarness(t)
	mux := rh.router(false)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	_ = rh.pipe.Close()

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("X-Correlation-Id") == "" {
		t.Error("excluded path must still echo a correlation ID")
	}
	if got := rh.sink.Len(); got != 0 {
		t.Errorf("health probe produced %d records: %v", got, rh.sink.Messages())
	}
}

func TestRouterMetricsExposure(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		rh := newRouterHarness(t)
		mux := rh.router(true)

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "vigil_") {
			t.Error("metrics exposition missing vigil_ families")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		rh := newRouterHarness(t)
		mux := rh.router(false)

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404 when metrics are off", rr.Code)
		}
	})
}

func TestRouterEcho(t *testing.T) {
	rh := newRouterHarness(t)
	mux := rh.router(false)

	req := httptest.NewRequest(http.MethodPost, "/echo",
		strings.NewReader(`{"greeting":"hello","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "chain-7")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	_ = rh.pipe.Close()

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Correlation-Id"); got != "chain-7" {
		t.Errorf("echoed correlation = %q, want chain-7", got)
	}

	var body struct {
		Received      map[string]interface{} `json:"received"`
		CorrelationID string                 `json:"correlation_id"`
	}
	decodeBody(t, rr.Body, &body)
	if body.CorrelationID != "chain-7" {
		t.Errorf("body correlation = %q, want chain-7", body.CorrelationID)
	}
	if body.Received["greeting"] != "hello" {
		t.Errorf("received = %v, want the posted payload back", body.Received)
	}

	// The handler saw the real password; the record must not have.
	var reqRec pipeline.CapturedRecord
	var found bool
	for _, rec := range rh.sink.Records() {
		if strings.Contains(rec.Message, "http POST /echo received") {
			reqRec, found = rec, true
			break
		}
	}
	if !found {
		t.Fatalf("request record missing: %v", rh.sink.Messages())
	}
	if reqRec.CorrelationID != "chain-7" {
		t.Errorf("record correlation = %q, want chain-7", reqRec.CorrelationID)
	}
	capturedBody, ok := reqRec.Property("body")
	if !ok {
		t.Fatal("request record missing body property")
	}
	s := capturedBody.(string)
	if !strings.Contains(s, `"password":"***"`) || strings.Contains(s, "hunter2") {
		t.Errorf("captured body = %q, want password masked", s)
	}
}

func TestRouterEchoRejectsMalformedJSON(t *testing.T) {
	rh := newRouterHarness(t)
	mux := rh.router(false)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"broken`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRouterListUsers(t *testing.T) {
	rh := newRouterHarness(t)
	mux := rh.router(false)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users", nil))
	_ = rh.pipe.Close()

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var users []user
	decodeBody(t, rr.Body, &users)
	if len(users) != 3 {
		t.Fatalf("user count = %d, want 3", len(users))
	}
	if users[0].Name != "Ada Lovelace" || users[2].ID != 3 {
		t.Errorf("users = %v, want seeded set ordered by id", users)
	}

	if !rh.message("database users.list completed") {
		t.Errorf("records = %v, want a database completion record", rh.sink.Messages())
	}
}

func TestRouterGetUser(t *testing.T) {
	t.Run("fetch then cache hit", func(t *testing.T) {
		rh := newRouterHarness(t)
		mux := rh.router(false)

		first := httptest.NewRecorder()
		mux.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/users/2", nil))
		if first.Code != http.StatusOK {
			t.Fatalf("first lookup status = %d, want 200", first.Code)
		}
		var u user
		decodeBody(t, first.Body, &u)
		if u.Name != "Grace Hopper" {
			t.Errorf("user = %v, want Grace Hopper", u)
		}
		if _, hit := rh.handlers.repo.fromCache(2); !hit {
			t.Error("successful fetch must populate the cache")
		}

		second := httptest.NewRecorder()
		mux.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/users/2", nil))
		if second.Code != http.StatusOK {
			t.Fatalf("cached lookup status = %d, want 200", second.Code)
		}
		_ = rh.pipe.Close()

		if !rh.message("cache users.cache_lookup") {
			t.Errorf("records = %v, want cache tracer records", rh.sink.Messages())
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		rh := newRouterHarness(t)
		mux := rh.router(false)

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/99", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("non-integer id", func(t *testing.T) {
		rh := newRouterHarness(t)
		mux := rh.router(false)

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/abc", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}

func TestRouterBoomRewrite(t *testing.T) {
	rh := newRouterHarness(t)
	rh.cfg.RewriteErrors = true
	mux := rh.router(false)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	_ = rh.pipe.Close()

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var body struct {
		Error         string `json:"error"`
		Kind          string `json:"kind"`
		CorrelationID string `json:"correlation_id"`
	}
	decodeBody(t, rr.Body, &body)
	if body.Kind != "system" {
		t.Errorf("kind = %q, want system", body.Kind)
	}
	if strings.Contains(body.Error, "diverged") {
		t.Error("rewritten response leaked the panic message")
	}
	if corr := rr.Header().Get("X-Correlation-Id"); corr == "" || body.CorrelationID != corr {
		t.Errorf("body correlation = %q, header = %q, want matching", body.CorrelationID, corr)
	}

	if !rh.message("panicked") || !rh.message("exception") {
		t.Errorf("records = %v, want panic and exception records", rh.sink.Messages())
	}
	if rh.message("/boom completed") {
		t.Error("panicked request must not emit a completion record")
	}
}

func TestRouterBoomObserveOnlyPropagates(t *testing.T) {
	rh := newRouterHarness(t)
	mux := rh.router(false)

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	}()
	_ = rh.pipe.Close()

	if recovered == nil {
		t.Fatal("observe-only mode must let the panic reach the host")
	}
	if s, ok := recovered.(string); !ok || !strings.Contains(s, "diverged") {
		t.Errorf("recovered = %v, want the original panic value", recovered)
	}
	if !rh.message("exception") {
		t.Errorf("records = %v, want an exception record before the re-raise", rh.sink.Messages())
	}
}

func TestRouterUpstreamStatus(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"default ok", "/upstream/status", http.StatusOK},
		{"explicit 502", "/upstream/status?code=502", http.StatusBadGateway},
		{"out of range", "/upstream/status?code=9999", http.StatusBadRequest},
		{"not a number", "/upstream/status?code=teapot", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rh := newRouterHarness(t)
			mux := rh.router(false)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

// TestRouterProxy runs the whole loop: an inbound request through the chi
// stack, out through the instrumented client to this same server's upstream
// simulator, and back. The outbound record must carry the inbound chain ID.
func TestRouterProxy(t *testing.T) {
	rh := newRouterHarness(t)
	rh.handlers.client = &http.Client{
		Transport: instrument.NewTransport("self-loop",
			instrument.Options{Enabled: true, LogStart: true, LogResults: true},
			false, nil, rh.pipe, rh.redactor),
		Timeout: 5 * time.Second,
	}

	srv := httptest.NewServer(rh.router(false))
	defer srv.Close()
	rh.handlers.selfBase = srv.URL

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/proxy?code=503", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("X-Correlation-Id", "chain-e2e")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proxy request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		UpstreamStatus int `json:"upstream_status"`
	}
	decodeBody(t, resp.Body, &body)
	if body.UpstreamStatus != http.StatusServiceUnavailable {
		t.Errorf("upstream_status = %d, want 503", body.UpstreamStatus)
	}
	_ = rh.pipe.Close()

	var clientRec pipeline.CapturedRecord
	var found bool
	for _, rec := range rh.sink.Records() {
		if strings.Contains(rec.Message, "http_client GET") {
			clientRec, found = rec, true
			break
		}
	}
	if !found {
		t.Fatalf("no outbound client record: %v", rh.sink.Messages())
	}
	if clientRec.CorrelationID != "chain-e2e" {
		t.Errorf("outbound record correlation = %q, want chain-e2e", clientRec.CorrelationID)
	}
}
