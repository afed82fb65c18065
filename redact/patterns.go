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

// ============================================================
// Known Secret Patterns
// ============================================================

// secretRule is one compiled pattern with its replacement. template is used
// with ReplaceAllString (capture groups allowed) unless replace is set, in
// which case the match is rewritten by the function.
type secretRule struct {
	name     string
	re       *regexp.Regexp
	template string
	replace  func(match string) string
}

func (sr secretRule) apply(text string) string {
	if sr.replace != nil {
		return sr.re.ReplaceAllStringFunc(text, sr.replace)
	}
	return sr.re.ReplaceAllString(text, sr.template)
}

// secretRules are applied in order by MaskSecrets. Card masking runs first
// so a card number is caught before scheme-specific rules rewrite the
// surrounding text.
var secretRules = []secretRule{
	{
		// 16-digit card numbers with a known leading BIN, plain or in
		// 4-4-4-4 grouping. Luhn-checked before masking to avoid eating
		// arbitrary numeric IDs.
		name: "card",
		re:   regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|6(?:011|5\d{2}))(?:[ -]?\d{4}){3}\b`),
		replace: func(match string) string {
			digits := stripCardSeparators(match)
			if !luhnValid(digits) {
				return match
			}
			return digits[:4] + " **** ****"
		},
	},
	{
		name:     "bearer",
		re:       regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`),
		template: "Bearer [REDACTED]",
	},
	{
		name:     "basic",
		re:       regexp.MustCompile(`(?i)\bBasic\s+[A-Za-z0-9+/]+=*`),
		template: "Basic [REDACTED]",
	},
	{
		name:     "client_secret",
		re:       regexp.MustCompile(`(?i)(client_secret"?\s*[:=]\s*"?)[^"&\s,}]+`),
		template: "${1}[REDACTED]",
	},
	{
		// Three base64url segments starting with "eyJ" (a JSON object
		// header); the signature segment may be empty.
		name:     "jwt",
		re:       regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]*`),
		template: "[REDACTED]",
	},
}

// MaskSecrets applies the known secret patterns in order: card numbers,
// bearer tokens, basic-auth values, client_secret fields, JWT-looking
// tokens. Each call is bounded by the configured pattern budget; patterns
// not reached before the budget expires are skipped, leaving the text
// unchanged for those patterns. Go's RE2 engine is linear in the input, so
// the budget only matters for very large values.
func (r *Redactor) MaskSecrets(text string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Placeholder
		}
	}()

	out = text
	deadline := time.Now().Add(r.opts.PatternBudget)

	for _, rule := range secretRules {
		if time.Now().After(deadline) {
			break
		}
		out = rule.apply(out)
	}
	return out
}

// stripCardSeparators removes the space/dash grouping from a card match.
func stripCardSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '-' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// luhnValid reports whether digits passes the Luhn checksum.
func luhnValid(digits string) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alternate := false

	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')

		if alternate {
			d *= 2
			if d > 9 {
				d = d%10 + 1
			}
		}

		sum += d
		alternate = !alternate
	}

	return sum%10 == 0
}
