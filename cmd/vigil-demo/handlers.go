// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/instrument"
	"github.com/mverrier/vigil/middleware"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// errUserNotFound marks lookups for ids the store has never seen.
var errUserNotFound = errors.New("user not found")

// user is the demo domain object.
type user struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

// userRepo is an in-memory stand-in for a real database, with a lookup
// cache in front of it so the cache tracer has something to observe.
type userRepo struct {
	mu    sync.RWMutex
	users map[int]user
	cache map[int]cachedUser
}

type cachedUser struct {
	user     user
	storedAt time.Time
}

func newUserRepo() *userRepo {
	users := map[int]user{
		1: {ID: 1, Name: "Ada Lovelace", Email: "ada@example.com", Plan: "enterprise"},
		2: {ID: 2, Name: "Grace Hopper", Email: "grace@example.com", Plan: "team"},
		3: {ID: 3, Name: "Radia Perlman", Email: "radia@example.com", Plan: "free"},
	}
	return &userRepo{users: users, cache: make(map[int]cachedUser)}
}

func (r *userRepo) find(id int) (user, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return user{}, errUserNotFound
	}
	return u, nil
}

func (r *userRepo) list() []user {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]user, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *userRepo) fromCache(id int) (user, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[id]
	return c.user, ok
}

func (r *userRepo) storeCache(u user) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[u.ID] = cachedUser{user: u, storedAt: time.Now()}
}

// sweepCache drops cache entries older than maxAge, returning the count.
func (r *userRepo) sweepCache(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	swept := 0
	for id, c := range r.cache {
		if time.Since(c.storedAt) > maxAge {
			delete(r.cache, id)
			swept++
		}
	}
	return swept
}

// demoHandlers carries the instrumented dependencies the endpoints use.
type demoHandlers struct {
	repo     *userRepo
	db       *instrument.Tracer
	cache    *instrument.Tracer
	client   *http.Client
	selfBase string
}

// newRouter assembles the chi router: CORS and rate limiting on the
// outside, then the exception handler, then the request logger, so a panic
// unwinds through the logger into the handler that classifies it.
func newRouter(h *demoHandlers, cfg middleware.Config, metricsEnabled bool, pipe *pipeline.Pipeline, redactor *redact.Redactor) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", cfg.CorrelationHeader},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(300, time.Minute))
	r.Use(middleware.ExceptionHandler(cfg, pipe, redactor))
	r.Use(middleware.RequestLogger(cfg, pipe, redactor))

	r.Get("/healthz", h.healthz)
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Post("/echo", h.echo)
	r.Get("/users", h.listUsers)
	r.Get("/users/{id}", h.getUser)
	r.Get("/boom", h.boom)
	r.Get("/upstream/status", h.upstreamStatus)
	r.Get("/proxy", h.proxy)

	return r
}

func (h *demoHandlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *demoHandlers) echo(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received":       payload,
		"correlation_id": correlation.ID(r.Context()),
	})
}

func (h *demoHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := instrument.Do(r.Context(), h.db, "users.list",
		"SELECT id, name, email, plan FROM users ORDER BY id",
		func(ctx context.Context) ([]user, error) {
			simulateQuery(ctx, 4*time.Millisecond)
			return h.repo.list(), nil
		})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing users failed"})
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *demoHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user id must be an integer"})
		return
	}
	ctx := r.Context()

	var (
		u   user
		hit bool
	)
	_ = h.cache.Run(ctx, "users.cache_lookup", fmt.Sprintf("user:%d", id), func(context.Context) error {
		u, hit = h.repo.fromCache(id)
		return nil
	})
	if hit {
		writeJSON(w, http.StatusOK, u)
		return
	}

	delay := queryDelay(r)
	u, err = instrument.Do(ctx, h.db, "users.find",
		"SELECT id, name, email, plan FROM users WHERE id = $1",
		func(ctx context.Context) (user, error) {
			simulateQuery(ctx, 4*time.Millisecond+delay)
			return h.repo.find(id)
		})
	switch {
	case errors.Is(err, errUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user lookup failed"})
		return
	}

	h.repo.storeCache(u)
	writeJSON(w, http.StatusOK, u)
}

func (h *demoHandlers) boom(w http.ResponseWriter, r *http.Request) {
	panic("users: cache and store diverged")
}

func (h *demoHandlers) upstreamStatus(w http.ResponseWriter, r *http.Request) {
	code := http.StatusOK
	if v := r.URL.Query().Get("code"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 100 || parsed > 599 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code must be a valid HTTP status"})
			return
		}
		code = parsed
	}
	if d := queryDelay(r); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, code, map[string]int{"status": code})
}

func (h *demoHandlers) proxy(w http.ResponseWriter, r *http.Request) {
	target := h.selfBase + "/upstream/status"
	if q := r.URL.RawQuery; q != "" {
		target += "?" + q
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "building upstream request failed"})
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Breaker-open and transport failures land here.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream call failed"})
		return
	}
	defer resp.Body.Close()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"upstream_status": resp.StatusCode,
	})
}

// queryDelay parses the optional delay query parameter, capped so a demo
// request cannot park a worker for long.
func queryDelay(r *http.Request) time.Duration {
	v := r.URL.Query().Get("delay")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0
	}
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// simulateQuery stands in for real I/O, honoring cancellation.
func simulateQuery(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// writeJSON renders v with the shared JSON codec.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
