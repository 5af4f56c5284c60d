// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the admission pipeline:
// - Admission decisions by outcome and rule
// - Geolocation provider attempts, failures, and latency
// - Geo cache efficiency
// - Throttle blocks
// - Telemetry queue pressure
// - HTTP request latency and throughput

var (
	// Admission Metrics
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of admission decisions",
		},
		[]string{"outcome", "rule"},
	)

	AdmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "admission_duration_seconds",
			Help:    "Duration of full admission evaluations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 5},
		},
	)

	// Geolocation Provider Metrics
	GeoProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_provider_requests_total",
			Help: "Total number of geolocation provider lookups",
		},
		[]string{"provider", "status"},
	)

	GeoProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geo_provider_duration_seconds",
			Help:    "Geolocation provider lookup duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"provider"},
	)

	// Geo Cache Metrics
	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geo_cache_hits_total",
			Help: "Total number of geolocation cache hits",
		},
	)

	GeoCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geo_cache_misses_total",
			Help: "Total number of geolocation cache misses",
		},
	)

	GeoCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geo_cache_entries",
			Help: "Current number of cached geolocation records",
		},
	)

	// Throttle Metrics
	ThrottleBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "throttle_blocks_total",
			Help: "Total number of temporary blocks imposed by the admission throttle",
		},
	)

	ThrottleTrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "throttle_tracked_keys",
			Help: "Current number of (destination, ip) pairs tracked by the throttle",
		},
	)

	// Telemetry Sink Metrics
	TelemetryEventsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_queued_total",
			Help: "Total number of telemetry events accepted into the queue",
		},
	)

	TelemetryEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_dropped_total",
			Help: "Total number of telemetry events dropped because the queue was full",
		},
	)

	TelemetryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_write_errors_total",
			Help: "Total number of telemetry persistence failures",
		},
	)

	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)
)

// RecordAdmission records one admission decision. The rule label carries the
// short rule identifier that produced a denial, or "none" for admissions.
func RecordAdmission(allowed bool, rule string, duration time.Duration) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	if rule == "" {
		rule = "none"
	}
	AdmissionDecisions.WithLabelValues(outcome, rule).Inc()
	AdmissionDuration.Observe(duration.Seconds())
}

// RecordGeoProvider records one provider lookup attempt.
func RecordGeoProvider(provider string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	GeoProviderRequests.WithLabelValues(provider, status).Inc()
	GeoProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordGeoCache records a cache hit or miss.
func RecordGeoCache(hit bool) {
	if hit {
		GeoCacheHits.Inc()
	} else {
		GeoCacheMisses.Inc()
	}
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}
