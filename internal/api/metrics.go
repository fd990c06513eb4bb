package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	itemsEnqueued     *prometheus.CounterVec
	batchSize         prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbatch_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelbatch_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbatch_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		itemsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbatch_queue_items_enqueued_total",
			Help: "Total batch items enqueued to the processing queue.",
		}, []string{"queue"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelbatch_api_batch_items",
			Help:    "Number of inputs per accepted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.itemsEnqueued,
		m.batchSize,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// statusLabel buckets codes into classes so the label set stays small.
func statusLabel(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/batches/"):
		return "/v1/batches/{id}"
	case strings.HasPrefix(path, "/v1/batches"):
		return "/v1/batches"
	case strings.HasPrefix(path, "/v1/uploads"):
		return "/v1/uploads"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
