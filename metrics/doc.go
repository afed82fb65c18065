// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package instruments the Vigil pipeline and wrappers using the Prometheus
client library, exposing metrics for monitoring throughput, latency, and
failure modes.

# Overview

The package provides metrics for:
  - Log pipeline queue depth, batch sizes, and emission outcomes
  - HTTP request latency and captured payload sizes
  - Instrumented operation durations (database, cache, jobs, outbound HTTP)
  - Circuit breaker state for outbound clients
  - Exception classification outcomes

# Metrics Endpoint

Metrics are exposed wherever the host application mounts the Prometheus
handler, conventionally at /metrics:

	curl http://localhost:8080/metrics | grep vigil_

# Available Metrics

Pipeline Metrics:
  - vigil_pipeline_queue_depth: Records waiting in the queue (gauge)
  - vigil_pipeline_records_total: Records by emission outcome (counter)
    Labels: outcome (emitted, failed)
  - vigil_pipeline_rejections_total: Records rejected before enqueue (counter)
    Labels: reason (mismatch, draining, stopped, cancelled)
  - vigil_pipeline_batch_size: Records per flushed batch (histogram)
  - vigil_pipeline_flush_duration_seconds: Batch flush latency (histogram)
  - vigil_pipeline_fallback_reports_total: Diagnostics routed to the fallback logger (counter)

HTTP Metrics:
  - vigil_http_requests_total: Observed HTTP requests (counter)
    Labels: method, status_code
  - vigil_http_request_duration_seconds: Request latency (histogram)
    Labels: method
  - vigil_http_request_body_bytes: Captured request body sizes (histogram)
  - vigil_http_response_body_bytes: Captured response body sizes (histogram)

Operation Metrics:
  - vigil_operation_duration_seconds: Instrumented operation latency (histogram)
    Labels: category (database, cache, job, http_client), outcome (success, error, cancelled)
  - vigil_operations_slow_total: Operations over the slow threshold (counter)
    Labels: category

Circuit Breaker Metrics:
  - vigil_circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - vigil_circuit_breaker_requests_total: Requests through breakers (counter)
    Labels: name, result (success, failure, rejected)

Exception Metrics:
  - vigil_exceptions_total: Classified exceptions (counter)
    Labels: kind, severity

# Usage Example

Basic setup in main.go:

	import (
	    "github.com/mverrier/vigil/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    metrics.SetAppInfo("1.0.0", runtime.Version())
	    http.Handle("/metrics", promhttp.Handler())
	}

The pipeline, instrument, and middleware packages record their own metrics;
host applications only need to expose the handler.

# Cardinality Management

To prevent high cardinality issues:

  - HTTP metrics are labelled by method and status code, never by path
  - Operation metrics use a fixed category set
  - Correlation IDs never appear as label values

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# See Also

  - pipeline: queue and emission metrics recording
  - instrument: operation duration recording
  - middleware: HTTP request metrics recording
  - https://prometheus.io/docs/practices/naming/: Metric naming conventions
*/
package metrics
