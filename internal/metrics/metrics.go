// Package metrics exposes Prometheus collectors for the crawler.
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

const namespace = "vinmonopol_crawler"

var (
	itemsTotal             *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	fetchBytesTotal        prometheus.Counter
	fetchRetriesTotal      prometheus.Counter
	checkpointWritesTotal  *prometheus.CounterVec
	checkpointRecords      prometheus.Gauge
	mirrorUpsertsTotal     *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	pacingDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Identifiers that reached a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of page fetches, labeled by host and status code.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"host", "code"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_bytes_total",
				Help:      "Total number of response body bytes fetched.",
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Fetch attempts repeated after a retryable failure.",
			},
		)

		checkpointWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_writes_total",
				Help:      "Record store rewrites, labeled by result.",
			},
			[]string{"result"},
		)

		checkpointRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "checkpoint_records",
				Help:      "Number of records in the last successful checkpoint.",
			},
		)

		mirrorUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_upserts_total",
				Help:      "Records upserted into the database mirror, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Number of workers currently processing an identifier.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pacing_delay_seconds",
				Help:      "Time spent waiting on the request pacer.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"key"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveItem counts an identifier reaching a terminal state.
func ObserveItem(state string) {
	Init()
	itemsTotal.WithLabelValues(state).Inc()
}

// ObserveFetch records one completed HTTP exchange. Code 0 marks a transport failure.
func ObserveFetch(rawURL string, code int, bytesFetched int, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeHost(rawURL), strconv.Itoa(code)).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveRetry counts a repeated fetch attempt.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveCheckpoint records a store rewrite attempt and, on success, its size.
func ObserveCheckpoint(records int, err error) {
	Init()
	if err != nil {
		checkpointWritesTotal.WithLabelValues("error").Inc()
		return
	}
	checkpointWritesTotal.WithLabelValues("ok").Inc()
	checkpointRecords.Set(float64(records))
}

// ObserveMirror records the outcome of a database mirror upsert batch.
func ObserveMirror(records int, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	mirrorUpsertsTotal.WithLabelValues(result).Add(float64(records))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(key string, duration time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}
