// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package pipeline

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mverrier/vigil/logging"
	"github.com/mverrier/vigil/metrics"
)

// fallbackReporter routes pipeline diagnostics to the process logger when
// records cannot travel the normal sink path. Reports are rate limited so
// a misbehaving sink cannot flood the fallback logger with one warning per
// dropped record.
type fallbackReporter struct {
	logger  zerolog.Logger
	limiter *rate.Limiter
}

func newFallbackReporter() *fallbackReporter {
	return &fallbackReporter{
		logger:  logging.WithComponent("pipeline"),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (f *fallbackReporter) placeholderMismatch(template string, placeholders, properties int) {
	metrics.RecordFallbackReport()
	if !f.limiter.Allow() {
		return
	}
	f.logger.Warn().
		Str("template", template).
		Int("placeholders", placeholders).
		Int("properties", properties).
		Msg("record rejected: placeholder count mismatch")
}

func (f *fallbackReporter) batchFailure(size int, err error) {
	metrics.RecordFallbackReport()
	if !f.limiter.Allow() {
		return
	}
	f.logger.Warn().
		Err(err).
		Int("batch_size", size).
		Msg("batch emission failed, retrying records individually")
}

func (f *fallbackReporter) recordFailure(rec *Record, err error) {
	metrics.RecordFallbackReport()
	if !f.limiter.Allow() {
		return
	}
	f.logger.Warn().
		Err(err).
		Str("template", rec.Template).
		Str("correlation_id", rec.CorrelationID).
		Msg("record emission failed, dropping record")
}
