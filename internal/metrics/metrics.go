// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal         *prometheus.CounterVec
	crawlerTasksTotal         *prometheus.CounterVec
	crawlerProductsTotal      prometheus.Counter
	crawlerFlushBatchSize     prometheus.Histogram
	crawlerActiveEngines      prometheus.Gauge
	crawlerPolitenessSeconds  prometheus.Histogram
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Page outcome labels for ObservePage.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeDropped = "dropped"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of page fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tasks_total",
				Help: "Total number of crawl tasks finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerProductsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_products_flushed_total",
				Help: "Total number of product records flushed to the sink.",
			},
		)

		crawlerFlushBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_flush_batch_size",
				Help:    "Histogram of product flush batch sizes.",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
		)

		crawlerActiveEngines = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_engines",
				Help: "Number of engine instances currently driving a task.",
			},
		)

		crawlerPolitenessSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_politeness_delay_seconds",
				Help:    "Histogram of inter-batch politeness delays.",
				Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3},
			},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObservePage increments the page counter for the given outcome.
func ObservePage(site, outcome string) {
	Init()
	crawlerPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveTask increments the finished-task counter for the given status.
func ObserveTask(status string) {
	Init()
	crawlerTasksTotal.WithLabelValues(status).Inc()
}

// ObserveFlush records a product flush of n records.
func ObserveFlush(n int) {
	Init()
	crawlerProductsTotal.Add(float64(n))
	crawlerFlushBatchSize.Observe(float64(n))
}

// IncActiveEngines increments the active engines gauge.
func IncActiveEngines() {
	Init()
	crawlerActiveEngines.Inc()
}

// DecActiveEngines decrements the active engines gauge.
func DecActiveEngines() {
	Init()
	crawlerActiveEngines.Dec()
}

// ObservePolitenessDelay records an inter-batch delay.
func ObservePolitenessDelay(d time.Duration) {
	Init()
	crawlerPolitenessSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest records an API request latency.
func ObserveHTTPRequest(method, route string, duration time.Duration) {
	Init()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
