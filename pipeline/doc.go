// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

/*
Package pipeline implements a bounded, asynchronous log record queue with
batched delivery to a pluggable sink.

Producers hand records to the pipeline and return immediately; a single
consumer goroutine batches queued records and delivers them to the sink,
keeping logging I/O off request paths.

# Overview

The pipeline provides:
  - A bounded queue (default 10,000 records) with blocking backpressure
  - Batched sink delivery (default 50 records per batch, flushed at least
    every 100ms)
  - Message templates with {name} placeholders and ordered property values
  - Per-record failure isolation with a rate-limited fallback logger
  - A panic-proof consumer loop that survives misbehaving sinks
  - Guaranteed drain of accepted records on Close
  - Record pooling to keep steady-state allocation flat

# Quick Start

	sink := pipeline.NewZerologSink(logging.Logger())
	p := pipeline.New(pipeline.DefaultConfig(), sink)
	defer p.Close()

	rec := pipeline.NewRecord(zerolog.InfoLevel, "order {order_id} placed by {user}").
		With("order_id", 42).
		With("user", "mallory")
	if err := p.Enqueue(ctx, rec); err != nil {
		// rejected: draining, stopped, or placeholder mismatch
	}

# Message Templates

Templates carry {name} placeholders substituted positionally from the
record's property list: the i-th placeholder takes the i-th value. The
placeholder count must match the property count exactly; Enqueue rejects
mismatched records with ErrPlaceholderMismatch and emits nothing for that
call. The rejection is local - the pipeline keeps running and the caller
decides whether to care about the error.

Property names also travel with the record, so structured sinks emit each
value under its own key in addition to the rendered message.

# Lifecycle

A pipeline moves through three states:

	Running  -> accepts and emits records
	Draining -> Close has begun; new records are rejected with ErrDraining
	            while queued ones are flushed
	Stopped  -> the drain is complete; Enqueue returns ErrStopped

Close blocks until every record accepted before it was called has been
handed to the sink. There is no timeout: shutdown loses nothing, however
slow the sink. Close is idempotent and safe to call from multiple
goroutines.

# Backpressure

When the queue is full, Enqueue blocks until the consumer frees space or
the caller's context is cancelled. Records are never dropped to make room;
slowing producers down is the only load-shedding mechanism. Callers that
cannot tolerate blocking should pass a context with a deadline and treat
context errors as a signal that the sink has fallen behind.

# Failure Isolation

Sink failures never escape to producers:

  - An EmitBatch error degrades that batch to per-record Emit calls.
  - A record that still fails is reported through the fallback logger and
    dropped alone; its neighbors are unaffected.
  - A panicking sink is recovered and treated as an emission error.

Fallback reports are rate limited so a wedged sink cannot flood the
process logger.

# Record Pooling

Records come from a sync.Pool. Acquire with NewRecord, populate with the
builder methods, and pass to Enqueue; the pipeline owns the record from
that point and recycles it after emission. Records that never reach
Enqueue must be returned with Release. Sinks receive live pooled records
and must copy anything they retain.

# Sinks

Three sinks ship with the package:

  - ZerologSink renders records as structured zerolog events.
  - WriterSink writes JSON lines to an io.Writer.
  - CaptureSink buffers copies in memory for tests and inspection.

Custom sinks implement the two-method Sink interface.

# Metrics

The pipeline records Prometheus metrics via the metrics package: queue
depth, per-outcome record counts, rejection reasons, batch sizes, flush
latency, and fallback activity. See the metrics package for the full list.

# Thread Safety

All exported methods are safe for concurrent use. Records themselves are
not: a record belongs to exactly one goroutine until Enqueue transfers
ownership to the pipeline.
*/
package pipeline
