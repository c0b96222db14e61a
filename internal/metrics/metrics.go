// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "speedmonitor_http_requests_total",
		Help: "Total number of HTTP requests by route, method, and status code",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speedmonitor_http_request_duration_seconds",
		Help:    "HTTP request handling duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ResultsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "speedmonitor_results_ingested_total",
		Help: "Total number of speed test results accepted for storage",
	})

	IngestRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "speedmonitor_ingest_rejected_total",
		Help: "Total number of submissions rejected by validation",
	})

	registerOnce sync.Once
)

// Register installs all collectors on the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ResultsIngestedTotal,
			IngestRejectedTotal,
		)
	})
}

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
