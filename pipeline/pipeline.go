// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mverrier/vigil/correlation"
	"github.com/mverrier/vigil/metrics"
)

// State is the lifecycle phase of a Pipeline.
type State int32

const (
	// StateRunning accepts and emits records.
	StateRunning State = iota
	// StateDraining rejects new records while queued ones are flushed.
	StateDraining
	// StateStopped is terminal; the consumer goroutine has exited.
	StateStopped
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrDraining is returned by Enqueue once Close has begun and queued
	// records are being flushed.
	ErrDraining = errors.New("pipeline: draining")

	// ErrStopped is returned by Enqueue after the drain has completed.
	ErrStopped = errors.New("pipeline: stopped")

	// ErrPlaceholderMismatch is returned when a record's template
	// placeholder count does not match its property count. The record is
	// dropped and nothing is emitted for that call; the pipeline keeps
	// running.
	ErrPlaceholderMismatch = errors.New("pipeline: template placeholder count does not match property count")

	// ErrNilRecord is returned when Enqueue is called with a nil record.
	ErrNilRecord = errors.New("pipeline: nil record")
)

// Config controls pipeline queue and batching behavior.
type Config struct {
	// AppName stamps every record with the emitting application's name.
	AppName string `koanf:"app_name"`

	// QueueCapacity bounds the number of records waiting for the consumer.
	// Producers block, honoring context cancellation, when the queue is
	// full; records are never silently dropped.
	QueueCapacity int `koanf:"queue_capacity" validate:"omitempty,min=1"`

	// BatchSize is the number of records delivered to the sink per batch.
	BatchSize int `koanf:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval flushes partial batches at least this often.
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// DefaultConfig returns production defaults: a 10k record queue flushed in
// batches of 50 at least every 100ms.
func DefaultConfig() Config {
	return Config{
		AppName:       "vigil",
		QueueCapacity: 10000,
		BatchSize:     50,
		FlushInterval: 100 * time.Millisecond,
	}
}

// Pipeline is a bounded, asynchronous log record queue with a single
// consumer goroutine. Producers enqueue records without blocking on I/O;
// the consumer batches them and delivers batches to the configured Sink.
//
// Failure handling is strictly isolating: a record that cannot be emitted
// is reported through the fallback logger and dropped alone, and a sink
// panic is recovered without killing the consumer. Records accepted before
// Close are always flushed before Close returns.
type Pipeline struct {
	cfg      Config
	sink     Sink
	identity Identity

	// mu gates producers against shutdown: Enqueue holds the read lock
	// through the channel send and Close takes the write lock before
	// closing the channel, so a send on the closed channel is impossible
	// and accepted records are never lost.
	mu    sync.RWMutex
	state atomic.Int32

	records chan *Record
	done    chan struct{}

	fallback  *fallbackReporter
	closeOnce sync.Once
}

// New creates a pipeline around sink and starts its consumer goroutine.
// Zero config fields fall back to DefaultConfig values. Close must be
// called to flush queued records before process exit.
func New(cfg Config, sink Sink) *Pipeline {
	def := DefaultConfig()
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	hostname, _ := os.Hostname()
	p := &Pipeline{
		cfg:  cfg,
		sink: sink,
		identity: Identity{
			App:      cfg.AppName,
			Hostname: hostname,
			PID:      os.Getpid(),
		},
		records:  make(chan *Record, cfg.QueueCapacity),
		done:     make(chan struct{}),
		fallback: newFallbackReporter(),
	}
	p.state.Store(int32(StateRunning))

	go p.run()
	return p
}

// State returns the current lifecycle phase.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// QueueDepth returns the number of records currently waiting for the
// consumer. The value is a snapshot and may be stale by the time it is
// read.
func (p *Pipeline) QueueDepth() int {
	return len(p.records)
}

// Enqueue validates rec and submits it to the queue. When the queue is
// full the call blocks until space frees or ctx is cancelled; records are
// never dropped to make room. The pipeline owns rec from this call on,
// whatever the outcome.
//
// The record's correlation ID is taken from ctx when not set explicitly,
// and its timestamp defaults to now.
func (p *Pipeline) Enqueue(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	switch p.State() {
	case StateDraining:
		rec.Release()
		metrics.RecordRejection("draining")
		return ErrDraining
	case StateStopped:
		rec.Release()
		metrics.RecordRejection("stopped")
		return ErrStopped
	}

	if n := countPlaceholders(rec.Template); n != len(rec.Properties) {
		p.fallback.placeholderMismatch(rec.Template, n, len(rec.Properties))
		rec.Release()
		metrics.RecordRejection("mismatch")
		return ErrPlaceholderMismatch
	}

	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = correlation.ID(ctx)
	}
	rec.Identity = p.identity

	p.mu.RLock()
	// Re-check under the lock: Close flips the state before taking the
	// write lock, so any producer that gets here with StateRunning is
	// guaranteed a live channel.
	if State(p.state.Load()) != StateRunning {
		p.mu.RUnlock()
		rec.Release()
		metrics.RecordRejection("draining")
		return ErrDraining
	}
	select {
	case p.records <- rec:
		p.mu.RUnlock()
		metrics.UpdateQueueDepth(len(p.records))
		return nil
	case <-ctx.Done():
		p.mu.RUnlock()
		rec.Release()
		metrics.RecordRejection("cancelled")
		return ctx.Err()
	}
}

// Close transitions the pipeline to Draining, flushes every queued record,
// and blocks until the consumer has emitted them all. Enqueue calls made
// after Close begins fail fast with ErrDraining, then ErrStopped once the
// drain completes. Close is idempotent; concurrent calls all return after
// the drain.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		if !p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
			return
		}
		// The write lock waits out producers blocked in a send; closing
		// the channel afterwards lets the consumer drain everything that
		// was accepted and exit.
		p.mu.Lock()
		close(p.records)
		p.mu.Unlock()

		<-p.done
		p.state.Store(int32(StateStopped))
	})
	return nil
}

// run is the single consumer goroutine. It batches records and flushes on
// size or interval, draining the channel completely on shutdown.
func (p *Pipeline) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, p.cfg.BatchSize)
	for {
		select {
		case rec, ok := <-p.records:
			if !ok {
				// Channel closed and empty: everything accepted has been
				// received. Flush the tail and exit.
				p.flush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= p.cfg.BatchSize {
				p.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(batch)
				batch = batch[:0]
			}
			metrics.UpdateQueueDepth(len(p.records))
		}
	}
}

// flush emits one batch, degrading to per-record emission when the batch
// call fails, and returns every record to the pool. Record failures are
// isolated: one undeliverable record never blocks its neighbors.
func (p *Pipeline) flush(batch []*Record) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	if err := p.emitBatch(batch); err != nil {
		p.fallback.batchFailure(len(batch), err)
		for _, rec := range batch {
			if perr := p.emitOne(rec); perr != nil {
				p.fallback.recordFailure(rec, perr)
				metrics.RecordEmitFailure()
			} else {
				metrics.RecordEmitted(1)
			}
		}
	} else {
		metrics.RecordEmitted(len(batch))
	}

	metrics.RecordFlush(time.Since(start), len(batch))
	for _, rec := range batch {
		rec.Release()
	}
	metrics.UpdateQueueDepth(len(p.records))
}

// emitBatch shields the consumer loop from sink panics.
func (p *Pipeline) emitBatch(batch []*Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return p.sink.EmitBatch(batch)
}

// emitOne shields per-record delivery from sink panics.
func (p *Pipeline) emitOne(rec *Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return p.sink.Emit(rec)
}
