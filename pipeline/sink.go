// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package pipeline

import (
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Sink delivers records to a destination.
//
// EmitBatch is the primary path; an error from it degrades delivery to
// per-record Emit calls, so a sink that can partially fail should make
// EmitBatch all-or-nothing where possible. Records passed to a sink are
// owned by the pipeline and recycled after the call returns; sinks must
// copy anything they retain.
type Sink interface {
	EmitBatch(batch []*Record) error
	Emit(rec *Record) error
}

// ============================================================================
// ZerologSink
// ============================================================================

// ZerologSink renders records as structured zerolog events. The record's
// own timestamp is stamped on each event, so the sink logger should not
// carry a Timestamp() hook of its own.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink creates a sink writing through the given logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

// EmitBatch emits each record in order. zerolog events cannot partially
// fail, so this never triggers the per-record degradation path.
func (s *ZerologSink) EmitBatch(batch []*Record) error {
	for _, rec := range batch {
		if err := s.Emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// Emit renders one record to the underlying logger.
func (s *ZerologSink) Emit(rec *Record) error {
	ev := s.logger.WithLevel(rec.Level).
		Time(zerolog.TimestampFieldName, rec.Time).
		Str("app", rec.Identity.App).
		Str("host", rec.Identity.Hostname).
		Int("pid", rec.Identity.PID)
	if rec.CorrelationID != "" {
		ev = ev.Str("correlation_id", rec.CorrelationID)
	}
	for _, prop := range rec.Properties {
		ev = ev.Interface(prop.Name, prop.Value)
	}
	if rec.Err != nil {
		ev = ev.Str("error_type", rec.Err.Type).Str("error", rec.Err.Message)
		if rec.Err.Stack != "" {
			ev = ev.Str("stack", rec.Err.Stack)
		}
	}
	ev.Msg(rec.Render())
	return nil
}

// ============================================================================
// WriterSink
// ============================================================================

// WriterSink writes records as JSON lines to an io.Writer. Writes are
// serialized, so the writer itself does not need to be goroutine safe.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing one JSON object per line to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// wireRecord is the JSON shape of an emitted record.
type wireRecord struct {
	Time          time.Time  `json:"time"`
	Level         string     `json:"level"`
	Message       string     `json:"message"`
	App           string     `json:"app"`
	Hostname      string     `json:"host"`
	PID           int        `json:"pid"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Properties    []Property `json:"properties,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
}

// EmitBatch writes each record in order, stopping at the first failure so
// the pipeline can retry the batch record by record.
func (s *WriterSink) EmitBatch(batch []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range batch {
		if err := s.write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Emit writes a single record.
func (s *WriterSink) Emit(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rec)
}

func (s *WriterSink) write(rec *Record) error {
	line, err := json.Marshal(wireRecord{
		Time:          rec.Time,
		Level:         rec.Level.String(),
		Message:       rec.Render(),
		App:           rec.Identity.App,
		Hostname:      rec.Identity.Hostname,
		PID:           rec.Identity.PID,
		CorrelationID: rec.CorrelationID,
		Properties:    rec.Properties,
		Error:         rec.Err,
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.w.Write(line)
	return err
}

// ============================================================================
// CaptureSink
// ============================================================================

// CapturedRecord is a standalone copy of an emitted record. Pipeline
// records are pooled and recycled after emission, so captures deep-copy
// everything they keep.
type CapturedRecord struct {
	Time          time.Time
	Level         zerolog.Level
	Template      string
	Message       string
	CorrelationID string
	App           string
	Properties    []Property
	Error         *ErrorInfo
}

// Property returns the value of the named property and whether it exists.
func (c CapturedRecord) Property(name string) (interface{}, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// CaptureSink buffers emitted records in memory. It backs tests and any
// host that wants to inspect pipeline output programmatically.
type CaptureSink struct {
	mu       sync.Mutex
	batchErr error
	emitErr  func(*Record) error
	records  []CapturedRecord
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// FailBatches makes every EmitBatch call return err, forcing the pipeline
// onto the per-record delivery path.
func (s *CaptureSink) FailBatches(err error) {
	s.mu.Lock()
	s.batchErr = err
	s.mu.Unlock()
}

// FailRecords installs a per-record fault: Emit returns fn(rec) when fn
// yields a non-nil error, and captures the record otherwise.
func (s *CaptureSink) FailRecords(fn func(*Record) error) {
	s.mu.Lock()
	s.emitErr = fn
	s.mu.Unlock()
}

// EmitBatch captures every record in the batch, or fails wholesale when a
// batch error is installed.
func (s *CaptureSink) EmitBatch(batch []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	for _, rec := range batch {
		s.capture(rec)
	}
	return nil
}

// Emit captures a single record unless a per-record fault rejects it.
func (s *CaptureSink) Emit(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitErr != nil {
		if err := s.emitErr(rec); err != nil {
			return err
		}
	}
	s.capture(rec)
	return nil
}

// capture deep-copies rec; the caller holds s.mu.
func (s *CaptureSink) capture(rec *Record) {
	props := make([]Property, len(rec.Properties))
	copy(props, rec.Properties)
	var errInfo *ErrorInfo
	if rec.Err != nil {
		e := *rec.Err
		errInfo = &e
	}
	s.records = append(s.records, CapturedRecord{
		Time:          rec.Time,
		Level:         rec.Level,
		Template:      rec.Template,
		Message:       rec.Render(),
		CorrelationID: rec.CorrelationID,
		App:           rec.Identity.App,
		Properties:    props,
		Error:         errInfo,
	})
}

// Records returns a snapshot of everything captured so far.
func (s *CaptureSink) Records() []CapturedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Messages returns the rendered messages in emission order.
func (s *CaptureSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Message
	}
	return out
}

// Len returns the number of captured records.
func (s *CaptureSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
