// Package metrics provides Prometheus metrics for the notemirror caches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics. The "cache" label is one of: metadata, document, derived.
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notemirror_cache_hits_total",
			Help: "Total cache hits per cache layer",
		},
		[]string{"cache"},
	)

	cacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notemirror_cache_misses_total",
			Help: "Total cache misses per cache layer",
		},
		[]string{"cache"},
	)

	staleFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notemirror_stale_fallbacks_total",
			Help: "Times stale cached data was served because the remote failed",
		},
		[]string{"cache"},
	)

	// Remote API metrics
	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notemirror_remote_calls_total",
			Help: "Total remote API calls",
		},
		[]string{"op", "status"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notemirror_remote_call_duration_seconds",
			Help:    "Remote API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notemirror_download_bytes_total",
			Help: "Total document bytes downloaded from the remote service",
		},
	)

	// Derivation metrics
	pageRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notemirror_page_renders_total",
			Help: "Total page image renders",
		},
		[]string{"status"},
	)

	pageRenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notemirror_page_render_duration_seconds",
			Help:    "Time to decode and render one document page",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Auth metrics
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notemirror_login_attempts_total",
			Help: "Total login sequences performed",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheHit records a cache hit for the given cache layer.
func RecordCacheHit(cache string) {
	cacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss for the given cache layer.
func RecordCacheMiss(cache string) {
	cacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordStaleFallback records that stale data was served in degraded mode.
func RecordStaleFallback(cache string) {
	staleFallbacksTotal.WithLabelValues(cache).Inc()
}

// RecordRemoteCall records a remote API call.
func RecordRemoteCall(op string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	remoteCallsTotal.WithLabelValues(op, status).Inc()
	remoteCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDownload records document bytes downloaded.
func RecordDownload(bytes int64) {
	downloadBytesTotal.Add(float64(bytes))
}

// RecordPageRender records a page render attempt.
func RecordPageRender(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pageRendersTotal.WithLabelValues(status).Inc()
	pageRenderDuration.Observe(duration.Seconds())
}

// RecordLoginAttempt records a login sequence result.
func RecordLoginAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	loginAttemptsTotal.WithLabelValues(result).Inc()
}
