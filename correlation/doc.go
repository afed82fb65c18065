// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

// Package correlation carries a per-logical-chain correlation ID on
// context.Context so every log record produced within one request or
// background operation shares the same identifier.
//
// The ID is attached once at the chain's entry point (the HTTP middleware or
// a job wrapper) and read by everything downstream. Because it travels on the
// context, goroutines spawned with that context inherit it automatically,
// while unrelated chains running on the same scheduler never observe it.
//
//	ctx, id := correlation.Ensure(r.Context())
//	// ... every emission in this chain reads correlation.ID(ctx) == id
//
// IDs are opaque 8-character strings (UUID prefix) chosen for log
// readability. A separate full-UUID request ID can be carried the same way
// for boundary-level uniqueness.
package correlation
