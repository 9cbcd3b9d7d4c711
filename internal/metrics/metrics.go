// Package metrics exposes Prometheus collectors for the analysis service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analysesTotal           *prometheus.CounterVec
	stageDurationSeconds    *prometheus.HistogramVec
	fallbackSelectedTotal   *prometheus.CounterVec
	remoteRetriesTotal      *prometheus.CounterVec
	rateLimitDelaySeconds   prometheus.Histogram
	activeAnalyses          prometheus.Gauge
	httpRequestsTotal       *prometheus.CounterVec
	pagesScrapedTotal       *prometheus.CounterVec
	screenshotCapturesTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_analyses_total",
				Help: "Total number of analyses finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		)

		fallbackSelectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_fallback_selected_total",
				Help: "Which option satisfied each capability request.",
			},
			[]string{"capability", "option"},
		)

		remoteRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_remote_retries_total",
				Help: "Total crawl-provider retry attempts, labeled by operation.",
			},
			[]string{"op"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xray_rate_limit_delay_seconds",
				Help:    "Histogram of provider cooldown wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeAnalyses = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "xray_active_analyses",
				Help: "Number of pipeline executions currently in flight.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		pagesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_pages_scraped_total",
				Help: "Total pages scraped, labeled by source (batch, scrape, http).",
			},
			[]string{"source"},
		)

		screenshotCapturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_screenshot_captures_total",
				Help: "Screenshot capture outcomes.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAnalysis increments the terminal-status counter.
func ObserveAnalysis(status string) {
	if analysesTotal != nil {
		analysesTotal.WithLabelValues(status).Inc()
	}
}

// ObserveStage records the wall-clock duration of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	if stageDurationSeconds != nil {
		stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// ObserveFallback records which option satisfied a capability request.
func ObserveFallback(capability, option string) {
	if fallbackSelectedTotal != nil {
		fallbackSelectedTotal.WithLabelValues(capability, option).Inc()
	}
}

// ObserveRemoteRetry increments the retry counter for an operation.
func ObserveRemoteRetry(op string) {
	if remoteRetriesTotal != nil {
		remoteRetriesTotal.WithLabelValues(op).Inc()
	}
}

// ObserveRateLimitDelay records the duration of a cooldown wait.
func ObserveRateLimitDelay(duration time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.Observe(duration.Seconds())
	}
}

// IncActiveAnalyses increments the in-flight gauge.
func IncActiveAnalyses() {
	if activeAnalyses != nil {
		activeAnalyses.Inc()
	}
}

// DecActiveAnalyses decrements the in-flight gauge.
func DecActiveAnalyses() {
	if activeAnalyses != nil {
		activeAnalyses.Dec()
	}
}

// ObserveHTTPRequest increments the HTTP request counter.
func ObserveHTTPRequest(method, code string) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, code).Inc()
	}
}

// ObservePageScraped increments the scraped-page counter for a source.
func ObservePageScraped(source string) {
	if pagesScrapedTotal != nil {
		pagesScrapedTotal.WithLabelValues(source).Inc()
	}
}

// ObserveScreenshot records a capture outcome (ok, retried, failed).
func ObserveScreenshot(outcome string) {
	if screenshotCapturesTotal != nil {
		screenshotCapturesTotal.WithLabelValues(outcome).Inc()
	}
}
