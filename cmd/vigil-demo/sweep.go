// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package main

import (
	"context"
	"time"

	"github.com/mverrier/vigil/instrument"
	"github.com/mverrier/vigil/logging"
	"github.com/mverrier/vigil/metrics"
)

// sweeper periodically expires the demo repo's lookup cache through the
// jobs tracer, so the host emits job records without any traffic. Each tick
// also refreshes the uptime gauge.
type sweeper struct {
	jobs     *instrument.Tracer
	repo     *userRepo
	start    time.Time
	interval time.Duration
	maxAge   time.Duration
}

func newSweeper(jobs *instrument.Tracer, repo *userRepo, start time.Time) *sweeper {
	return &sweeper{
		jobs:     jobs,
		repo:     repo,
		start:    start,
		interval: 30 * time.Second,
		maxAge:   time.Minute,
	}
}

// Serve implements suture.Service.
func (s *sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.UpdateUptime(s.start)
			if _, err := instrument.Do(ctx, s.jobs, "cache.sweep",
				"expire stale user cache entries",
				func(context.Context) (int, error) {
					return s.repo.sweepCache(s.maxAge), nil
				}); err != nil {
				logging.Warn().Err(err).Msg("Cache sweep failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (s *sweeper) String() string {
	return "cache-sweeper"
}
