// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsProcessed counts finished pipeline jobs by kind and outcome.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updated_jobs_processed_total",
		Help: "Pipeline jobs processed, labelled by job kind and outcome.",
	}, []string{"kind", "outcome"})

	// JobDuration observes wall-clock job execution time by kind.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "updated_job_duration_seconds",
		Help:    "Pipeline job execution time in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})

	// ChunksReceived counts accepted upload chunks.
	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updated_upload_chunks_received_total",
		Help: "Upload chunks accepted and stored.",
	})

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updated_http_requests_total",
		Help: "HTTP requests served, labelled by method, route and status code.",
	}, []string{"method", "route", "status"})

	// ManifestCacheHits counts resolver cache hits and misses.
	ManifestCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updated_manifest_cache_total",
		Help: "Manifest resolver cache lookups by result.",
	}, []string{"result"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
