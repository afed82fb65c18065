// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Property is one named value attached to a record, in emission order.
type Property struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// ErrorInfo describes a failure attached to a record.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Identity identifies the emitting process. The pipeline stamps it on every
// record at enqueue time.
type Identity struct {
	App      string `json:"app"`
	Hostname string `json:"host"`
	PID      int    `json:"pid"`
}

// Record is a single structured log record flowing through the pipeline.
//
// Records are pooled: acquire one with NewRecord, populate it with the
// builder methods, and hand it off with Pipeline.Enqueue. The pipeline owns
// the record from that point on, whatever Enqueue returns; producers must
// not retain or mutate it afterwards. A record that never reaches Enqueue
// must be returned with Release.
type Record struct {
	Time          time.Time
	Level         zerolog.Level
	Template      string
	Properties    []Property
	CorrelationID string
	Identity      Identity
	Err           *ErrorInfo
}

// placeholderRe matches {name} placeholders in message templates.
var placeholderRe = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

var recordPool = sync.Pool{
	New: func() interface{} {
		return &Record{Properties: make([]Property, 0, 8)}
	},
}

// NewRecord acquires a record from the pool with the given level and
// message template. Placeholders use {name} syntax; the template's
// placeholder count must match the number of properties added with With,
// or Enqueue rejects the record.
func NewRecord(level zerolog.Level, template string) *Record {
	r := recordPool.Get().(*Record)
	r.Level = level
	r.Template = template
	return r
}

// With appends a named property value.
func (r *Record) With(name string, value interface{}) *Record {
	r.Properties = append(r.Properties, Property{Name: name, Value: value})
	return r
}

// WithError attaches error details to the record. A nil error is a no-op.
func (r *Record) WithError(err error) *Record {
	if err == nil {
		return r
	}
	r.Err = &ErrorInfo{Type: fmt.Sprintf("%T", err), Message: err.Error()}
	return r
}

// WithStack attaches a captured stack trace to the record's error info.
func (r *Record) WithStack(stack string) *Record {
	if stack == "" {
		return r
	}
	if r.Err == nil {
		r.Err = &ErrorInfo{}
	}
	r.Err.Stack = stack
	return r
}

// WithCorrelation sets an explicit correlation ID, overriding whatever the
// enqueue context carries.
func (r *Record) WithCorrelation(id string) *Record {
	r.CorrelationID = id
	return r
}

// Release resets the record and returns it to the pool. Only call this for
// records that were never passed to Enqueue.
func (r *Record) Release() {
	r.reset()
	recordPool.Put(r)
}

// reset clears all fields so a recycled record cannot leak values into the
// next acquisition. Property values are zeroed before truncation to release
// references held by the backing array.
func (r *Record) reset() {
	for i := range r.Properties {
		r.Properties[i] = Property{}
	}
	*r = Record{Properties: r.Properties[:0]}
}

// Render substitutes template placeholders with property values.
//
// Substitution is positional: the i-th placeholder takes the i-th property
// value. Enqueue validates that the counts match, so a record that made it
// into the queue always renders cleanly; property names feed the structured
// fields emitted by sinks.
func (r *Record) Render() string {
	if len(r.Properties) == 0 || !strings.Contains(r.Template, "{") {
		return r.Template
	}
	idx := 0
	return placeholderRe.ReplaceAllStringFunc(r.Template, func(m string) string {
		if idx >= len(r.Properties) {
			return m
		}
		v := formatValue(r.Properties[idx].Value)
		idx++
		return v
	})
}

// countPlaceholders reports how many {name} placeholders a template has.
func countPlaceholders(template string) int {
	if !strings.Contains(template, "{") {
		return 0
	}
	return len(placeholderRe.FindAllStringIndex(template, -1))
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
