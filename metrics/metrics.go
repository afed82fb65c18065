// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics for Vigil Instrumentation
// This package provides observability for:
// - Log pipeline throughput, queue depth, and fallback activity
// - HTTP request latency and payload sizes
// - Instrumented operation durations (database, cache, jobs, outbound HTTP)
// - Circuit breaker state for outbound clients
// - Exception classification outcomes

var (
	// Pipeline Metrics
	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_queue_depth",
			Help: "Current number of records waiting in the pipeline queue",
		},
	)

	PipelineRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_pipeline_records_total",
			Help: "Total number of records by emission outcome",
		},
		[]string{"outcome"}, // "emitted", "failed"
	)

	PipelineRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_pipeline_rejections_total",
			Help: "Total number of records rejected before enqueue",
		},
		[]string{"reason"}, // "mismatch", "draining", "stopped", "cancelled"
	)

	PipelineBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_pipeline_batch_size",
			Help:    "Number of records in each flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	PipelineFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_pipeline_flush_duration_seconds",
			Help:    "Duration of pipeline batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PipelineFallbackReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_pipeline_fallback_reports_total",
			Help: "Total number of diagnostics routed to the fallback logger",
		},
	)

	// HTTP Server Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total number of HTTP requests observed",
		},
		[]string{"method", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, // Optimized for API latency
		},
		[]string{"method"},
	)

	HTTPRequestBodyBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_body_bytes",
			Help:    "Size of captured request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B to ~1MB
		},
	)

	HTTPResponseBodyBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_http_response_body_bytes",
			Help:    "Size of captured response bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	// Instrumented Operation Metrics
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_operation_duration_seconds",
			Help:    "Duration of instrumented operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category", "outcome"}, // category: "database", "cache", "job", "http_client"; outcome: "success", "error", "cancelled"
	)

	OperationsSlow = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_operations_slow_total",
			Help: "Total number of operations exceeding the slow threshold",
		},
		[]string{"category"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_circuit_breaker_requests_total",
			Help: "Total number of requests through outbound circuit breakers",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Exception Metrics
	ExceptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_exceptions_total",
			Help: "Total number of classified exceptions",
		},
		[]string{"kind", "severity"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// UpdateQueueDepth updates the pipeline queue depth gauge
func UpdateQueueDepth(depth int) {
	PipelineQueueDepth.Set(float64(depth))
}

// RecordEmitted records successfully emitted pipeline records
func RecordEmitted(count int) {
	PipelineRecords.WithLabelValues("emitted").Add(float64(count))
}

// RecordEmitFailure records a record that could not be delivered to the sink
func RecordEmitFailure() {
	PipelineRecords.WithLabelValues("failed").Inc()
}

// RecordRejection records a record rejected before it reached the queue
func RecordRejection(reason string) {
	PipelineRejections.WithLabelValues(reason).Inc()
}

// RecordFlush records a pipeline batch flush
func RecordFlush(duration time.Duration, batchSize int) {
	PipelineFlushDuration.Observe(duration.Seconds())
	PipelineBatchSize.Observe(float64(batchSize))
}

// RecordFallbackReport records a diagnostic routed to the fallback logger
func RecordFallbackReport() {
	PipelineFallbackReports.Inc()
}

// RecordHTTPRequest records an observed HTTP request
func RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPBodySizes records captured request and response body sizes
func RecordHTTPBodySizes(requestBytes, responseBytes int) {
	if requestBytes > 0 {
		HTTPRequestBodyBytes.Observe(float64(requestBytes))
	}
	if responseBytes > 0 {
		HTTPResponseBodyBytes.Observe(float64(responseBytes))
	}
}

// RecordOperation records an instrumented operation and its outcome
func RecordOperation(category, outcome string, duration time.Duration) {
	OperationDuration.WithLabelValues(category, outcome).Observe(duration.Seconds())
}

// RecordSlowOperation records an operation that exceeded the slow threshold
func RecordSlowOperation(category string) {
	OperationsSlow.WithLabelValues(category).Inc()
}

// SetCircuitBreakerState updates the state gauge for a named breaker
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerRequest records a request through a named breaker
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordException records a classified exception
func RecordException(kind, severity string) {
	ExceptionsTotal.WithLabelValues(kind, severity).Inc()
}

// SetAppInfo sets the application info gauge
func SetAppInfo(version, goVersion string) {
	AppInfo.WithLabelValues(version, goVersion).Set(1)
}

// UpdateUptime updates the uptime gauge from the process start time
func UpdateUptime(start time.Time) {
	AppUptime.Set(time.Since(start).Seconds())
}
