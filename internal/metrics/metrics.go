// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeRunsTotal			*prometheus.CounterVec
	postingsTotal			*prometheus.CounterVec
	pdfCacheTotal			*prometheus.CounterVec
	sourceScrapeSeconds		*prometheus.HistogramVec
	httpRequestsTotal		*prometheus.CounterVec
	httpRequestDurationSeconds	*prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_runs_total",
				Help: "Total scrape runs, labeled by trigger and terminal state.",
			},
			[]string{"trigger", "state"},
		)

		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_postings_total",
				Help: "Total postings processed by the bulk writer, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pdfCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_pdf_cache_total",
				Help: "Document mirror attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sourceScrapeSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:		"scrape_source_duration_seconds",
				Help:		"Histogram of per-source scrape durations.",
				Buckets:	[]float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:		"http_request_duration_seconds",
				Help:		"Histogram of HTTP request latencies, labeled by method and route.",
				Buckets:	[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for a terminal state.
func ObserveRun(trigger, state string) {
	if scrapeRunsTotal == nil {
		return
	}
	scrapeRunsTotal.WithLabelValues(trigger, state).Inc()
}

// ObservePostings adds n to the outcome counter (inserted/updated/skipped).
func ObservePostings(outcome string, n int) {
	if postingsTotal == nil || n <= 0 {
		return
	}
	postingsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObservePDFCache increments the mirror counter (hit/stored/failed/skipped).
func ObservePDFCache(outcome string) {
	if pdfCacheTotal == nil {
		return
	}
	pdfCacheTotal.WithLabelValues(outcome).Inc()
}

// ObserveSourceScrape records the duration of one source's processing.
func ObserveSourceScrape(source string, duration time.Duration) {
	if sourceScrapeSeconds == nil {
		return
	}
	sourceScrapeSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
