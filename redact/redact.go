// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package redact

import (
	"regexp"
	"strings"
	"time"
)

const (
	// MaskValue replaces masked field and header values.
	MaskValue = "***"

	// Placeholder replaces values whose masking failed internally.
	// Returned instead of the original so a masking bug can never leak.
	Placeholder = "[REDACTION ERROR]"

	// cropMarker is appended to cropped text.
	cropMarker = "..."
)

// Options configures a Redactor. The zero value is usable: known secret
// patterns are always applied, and DefaultFields/DefaultHeaders fill the
// name lists.
type Options struct {
	// Fields are sensitive field names masked in JSON and form bodies,
	// matched case-insensitively. Empty means DefaultFields.
	Fields []string

	// Headers are sensitive header names masked in MaskHeaders,
	// matched case-insensitively. Empty means DefaultHeaders.
	Headers []string

	// MaxHeaderBytes is the cumulative serialized-size budget for
	// MaskHeaders output. Headers beyond the budget are dropped.
	// Default: 2048.
	MaxHeaderBytes int

	// PatternBudget bounds one MaskSecrets call; patterns not yet applied
	// when the budget is exhausted are skipped for that call.
	// Default: 50ms.
	PatternBudget time.Duration
}

// DefaultFields are the field names masked when Options.Fields is empty.
func DefaultFields() []string {
	return []string{
		"password", "passwd", "pwd",
		"secret", "client_secret",
		"token", "access_token", "refresh_token", "id_token",
		"api_key", "apikey",
		"authorization",
		"card_number", "credit_card", "cvv",
		"ssn",
	}
}

// DefaultHeaders are the header names masked when Options.Headers is empty.
func DefaultHeaders() []string {
	return []string{
		"authorization",
		"proxy-authorization",
		"cookie",
		"set-cookie",
		"x-api-key",
	}
}

// fieldRule holds the compiled patterns for one sensitive field name.
type fieldRule struct {
	name   string
	jsonRe *regexp.Regexp // "name":"value"
	formRe *regexp.Regexp // name=value
}

// Redactor applies masking rules. Immutable after New; safe for concurrent use.
type Redactor struct {
	opts       Options
	fieldRules []fieldRule
	headerSet  map[string]bool // lowercased header names
}

// New compiles the rule set. Rules are fixed for the Redactor's lifetime.
func New(opts Options) *Redactor {
	if len(opts.Fields) == 0 {
		opts.Fields = DefaultFields()
	}
	if len(opts.Headers) == 0 {
		opts.Headers = DefaultHeaders()
	}
	if opts.MaxHeaderBytes <= 0 {
		opts.MaxHeaderBytes = 2048
	}
	if opts.PatternBudget <= 0 {
		opts.PatternBudget = 50 * time.Millisecond
	}

	r := &Redactor{
		opts:      opts,
		headerSet: make(map[string]bool, len(opts.Headers)),
	}

	for _, name := range opts.Fields {
		quoted := regexp.QuoteMeta(name)
		r.fieldRules = append(r.fieldRules, fieldRule{
			name:   name,
			jsonRe: regexp.MustCompile(`(?i)("` + quoted + `"\s*:\s*)"(?:[^"\\]|\\.)*"`),
			formRe: regexp.MustCompile(`(?i)(\b` + quoted + `\s*=)[^&\s]*`),
		})
	}

	for _, name := range opts.Headers {
		r.headerSet[strings.ToLower(name)] = true
	}

	return r
}

// Mask applies the full text path: known secret patterns, then configured
// field masking. This is what the HTTP interceptors run bodies through.
func (r *Redactor) Mask(text string) string {
	return r.MaskFields(r.MaskSecrets(text))
}

// MaskFields replaces the values of configured sensitive fields in JSON-style
// ("field":"value") and form-style (field=value) occurrences. Matching is
// case-insensitive; everything else passes through untouched.
func (r *Redactor) MaskFields(text string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Placeholder
		}
	}()

	out = text
	for _, rule := range r.fieldRules {
		out = rule.jsonRe.ReplaceAllString(out, `${1}"`+MaskValue+`"`)
		out = rule.formRe.ReplaceAllString(out, `${1}`+MaskValue)
	}
	return out
}

// Crop truncates s to max bytes and appends a marker when over the limit.
// Idempotent: reapplying with the same max returns the input unchanged, so
// already-cropped text never degrades further. Output length never exceeds
// max plus the marker length. Non-positive max disables cropping.
func Crop(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if strings.HasSuffix(s, cropMarker) && len(s) <= max+len(cropMarker) {
		return s
	}
	return s[:max] + cropMarker
}
