// Package telemetry exposes Prometheus metrics for the harvester.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	listingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_listing_requests_total",
			Help: "Listing API requests, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	articlesDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_articles_discovered_total",
			Help: "Articles forwarded to the ledger, labeled by source.",
		},
		[]string{"source"},
	)

	articlesCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_articles_completed_total",
			Help: "Articles that reached Complete, labeled by language.",
		},
		[]string{"language"},
	)

	articlesQuarantinedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_articles_quarantined_total",
			Help: "Articles moved to the quarantine list, labeled by language.",
		},
		[]string{"language"},
	)

	pageFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_page_fetch_duration_seconds",
			Help:    "Article page fetch latencies, labeled by language.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"language"},
	)

	mediaDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_media_downloads_total",
			Help: "Media download attempts, labeled by locator kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delay_seconds",
			Help:    "Delay introduced by the per-host fetch rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"host"},
	)

	frontierBackoffSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_frontier_backoff_seconds",
			Help: "Current listing backoff delay per source.",
		},
		[]string{"source"},
	)

	pendingArticles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_pending_articles",
			Help: "Number of discovered articles awaiting processing.",
		},
	)
)

// CountListingRequest records one listing API request.
func CountListingRequest(source, outcome string) {
	listingRequestsTotal.WithLabelValues(source, outcome).Inc()
}

// CountArticleDiscovered records one article forwarded to the ledger.
func CountArticleDiscovered(source string) {
	articlesDiscoveredTotal.WithLabelValues(source).Inc()
}

// CountArticleCompleted records one article reaching Complete.
func CountArticleCompleted(language string) {
	articlesCompletedTotal.WithLabelValues(language).Inc()
}

// CountArticleQuarantined records one article moved to quarantine.
func CountArticleQuarantined(language string) {
	articlesQuarantinedTotal.WithLabelValues(language).Inc()
}

// ObservePageFetch records one article page fetch duration.
func ObservePageFetch(language string, d time.Duration) {
	pageFetchDurationSeconds.WithLabelValues(language).Observe(d.Seconds())
}

// CountMediaDownload records one media download attempt.
func CountMediaDownload(kind, outcome string) {
	mediaDownloadsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the fetch limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// SetFrontierBackoff publishes the current backoff delay for a source.
func SetFrontierBackoff(source string, d time.Duration) {
	frontierBackoffSeconds.WithLabelValues(source).Set(d.Seconds())
}

// SetPendingArticles publishes the ledger backlog size.
func SetPendingArticles(n int) {
	pendingArticles.Set(float64(n))
}
