// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestPagesTotal         *prometheus.CounterVec
	harvestItemsTotal         *prometheus.CounterVec
	harvestManifestURLsTotal  *prometheus.CounterVec
	compactUnitsTotal         *prometheus.CounterVec
	compactBatchesTotal       *prometheus.CounterVec
	compactUploadsTotal       *prometheus.CounterVec
	compactPendingUnits       prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecs   *prometheus.HistogramVec
	harvestRateLimitDelaySecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_pages_total",
				Help: "Listing pages visited, labeled by tag and status.",
			},
			[]string{"tag", "status"},
		)

		harvestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_items_total",
				Help: "Items handled by the item processor, labeled by tag and result.",
			},
			[]string{"tag", "result"},
		)

		harvestManifestURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_manifest_urls_total",
				Help: "Media URLs written to manifests, labeled by category.",
			},
			[]string{"category"},
		)

		compactUnitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compact_units_total",
				Help: "Fetch units seen by the compactor, labeled by result.",
			},
			[]string{"result"},
		)

		compactBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compact_batches_total",
				Help: "Compaction attempts, labeled by result.",
			},
			[]string{"result"},
		)

		compactUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compact_uploads_total",
				Help: "Archive uploads, labeled by result.",
			},
			[]string{"result"},
		)

		compactPendingUnits = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "compact_pending_units",
				Help: "Archive units waiting for the next compaction.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		harvestRateLimitDelaySecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a listing page fetch.
func ObservePage(tag, status string) {
	Init()
	harvestPagesTotal.WithLabelValues(tag, status).Inc()
}

// ObserveItem counts an item outcome: processed, skipped or failed.
func ObserveItem(tag, result string) {
	Init()
	harvestItemsTotal.WithLabelValues(tag, result).Inc()
}

// ObserveManifestURLs counts URLs written to a category manifest.
func ObserveManifestURLs(category string, n int) {
	Init()
	if n > 0 {
		harvestManifestURLsTotal.WithLabelValues(category).Add(float64(n))
	}
}

// ObserveUnit counts a compactor fetch unit outcome.
func ObserveUnit(result string) {
	Init()
	compactUnitsTotal.WithLabelValues(result).Inc()
}

// ObserveBatch counts a compaction attempt.
func ObserveBatch(result string) {
	Init()
	compactBatchesTotal.WithLabelValues(result).Inc()
}

// ObserveUpload counts an upload attempt.
func ObserveUpload(result string) {
	Init()
	compactUploadsTotal.WithLabelValues(result).Inc()
}

// SetPending records the current pending batch size.
func SetPending(n int) {
	Init()
	compactPendingUnits.Set(float64(n))
}

// ObserveHTTPRequest records an ops HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvestRateLimitDelaySecs.WithLabelValues(domain).Observe(duration.Seconds())
}
