// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package redact masks sensitive data in free text, structured bodies, and
// HTTP headers before it reaches any log sink.
//
// A Redactor is built once from Options and is then safe for unlimited
// concurrent use; all rule compilation happens at construction. Methods never
// mutate their input and never panic outward: an internal failure while
// masking yields the safe placeholder for that value rather than the
// original, and processing of the remaining payload continues.
//
// # What gets masked
//
//   - Known secret shapes in free text: payment card numbers (Luhn-checked,
//     first four digits kept), bearer and basic authorization values,
//     client_secret fields, and JWT-looking tokens. See MaskSecrets.
//   - Configured field names in JSON-style ("password":"...") and
//     form-style (password=...) occurrences, case-insensitively. See
//     MaskFields.
//   - Configured header names, with Authorization bearer tokens decoded
//     into their claims instead of logged raw. See MaskHeaders.
//
// # Quick Start
//
//	red := redact.New(redact.Options{
//	    Fields: []string{"password", "api_key"},
//	})
//
//	safe := red.Mask(`{"password":"hunter2","ok":true}`)
//	// {"password":"***","ok":true}
//
// Pattern scanning is bounded: Go's RE2 engine is linear in the input, and a
// per-call time budget additionally skips remaining patterns if a scan of a
// very large value runs long. A skipped pattern leaves the text unchanged for
// that pattern only.
package redact
