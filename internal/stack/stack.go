// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package stack captures bounded goroutine stack traces for panic and
// failure records.
package stack

import (
	"runtime"
)

// DefaultMax bounds a captured stack when the caller passes no cap.
// Big enough for any realistic handler chain, small enough that a
// panic storm cannot balloon record sizes.
const DefaultMax = 8 << 10

// Capture returns the current goroutine's stack trace, capped at max
// bytes. Non-positive max means DefaultMax.
func Capture(max int) string {
	if max <= 0 {
		max = DefaultMax
	}
	buf := make([]byte, max)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
