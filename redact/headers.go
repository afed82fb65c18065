// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package redact

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// MalformedToken marks an Authorization bearer value whose JWT could not be
// decoded. The entry is kept (with this sentinel) rather than dropped, and
// the raw token is never emitted.
const MalformedToken = "malformed token"

// headerEntryOverhead approximates the per-entry serialization cost
// (quotes, colon, separator) counted against the header budget.
const headerEntryOverhead = 4

// MaskHeaders builds a redacted copy of h. Configured sensitive headers are
// masked; an Authorization bearer JWT is decoded and rendered as claim
// name=value pairs instead of the raw token; every other value runs through
// MaskSecrets. Keys are processed in sorted order and a cumulative
// serialized-size budget applies: once exceeded, remaining headers are
// dropped.
func (r *Redactor) MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	if len(h) == 0 {
		return out
	}

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	used := 0
	for _, k := range keys {
		v := r.maskHeaderValue(k, strings.Join(h.Values(k), ", "))

		cost := len(k) + len(v) + headerEntryOverhead
		if used+cost > r.opts.MaxHeaderBytes {
			break
		}
		out[k] = v
		used += cost
	}
	return out
}

// maskHeaderValue redacts one header value. Failures inside masking are
// contained here so one bad value never aborts the remaining headers.
func (r *Redactor) maskHeaderValue(key, value string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Placeholder
		}
	}()

	lower := strings.ToLower(key)

	if lower == "authorization" {
		if token, ok := bearerToken(value); ok {
			return r.describeBearer(token)
		}
	}

	if r.headerSet[lower] {
		return MaskValue
	}

	return r.MaskSecrets(value)
}

// bearerToken extracts the token from a "Bearer <token>" value.
func bearerToken(value string) (string, bool) {
	const prefix = "bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(value[len(prefix):]), true
}

// describeBearer decodes the JWT's claims without verifying the signature
// (this is observability, not authentication) and renders them as sorted
// name=value pairs. Undecodable tokens yield the MalformedToken sentinel.
func (r *Redactor) describeBearer(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return MalformedToken
	}

	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatClaim(k, claims[k]))
	}
	return "Bearer{" + strings.Join(parts, " ") + "}"
}

// formatClaim renders one claim value, masking secret-ish string claims by
// key name and JSON-encoding structured values.
func formatClaim(key string, v interface{}) string {
	switch val := v.(type) {
	case string:
		return SanitizeValue(key, val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return Placeholder
		}
		return Crop(string(b), 64)
	}
}
