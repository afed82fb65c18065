// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

/*
Package config loads the host configuration with Koanf v2 from layered
sources and validates it before anything else starts.

# Sources

Three layers, later wins:

 1. Defaults - built in, always present
 2. Config file - optional YAML, first hit from VIGIL_CONFIG or
    DefaultConfigPaths (or an explicit path passed to Load)
 3. Environment - variables prefixed VIGIL_, double underscore as the
    section separator

The same value by all three routes:

	# default
	pipeline.batch_size = 50

	# vigil.yaml
	pipeline:
	  batch_size: 100

	# environment
	VIGIL_PIPELINE__BATCH_SIZE=200

List values cross the environment as comma-separated strings:

	VIGIL_HTTP__EXCLUDED_PATHS="/health, /metrics"

# Sections

	app       application name and environment
	log       process logger level, format, caller, timestamp
	pipeline  record queue capacity, batch size, flush interval
	http      request/response interceptor and exception handler
	database  database tracer options
	cache     cache tracer options
	jobs      background job tracer options
	client    outbound HTTP transport options, upstream name, breaker
	redact    sensitive field/header names and scrubbing budgets
	metrics   Prometheus exposure toggle

The trace sections leave slow thresholds at zero by default, which picks
the per-category default at construction: 500ms for database, 100ms for
cache, 30s for jobs, 2s for the outbound client.

# Validation

Load validates before returning: struct tags through validator/v10, then
enumerated sets (log level, log format, environment) and cross-field
constraints (batch size within queue capacity, non-negative budgets).
A config that loads is a config that passed.

# Immutability

The returned Config never changes. There is no file watching and no
reload; restart the process to pick up new values. Subsystems receive
their sections by value at construction and keep no reference back.
*/
package config
