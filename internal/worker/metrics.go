package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	itemsTotal           *prometheus.CounterVec
	itemDuration         *prometheus.HistogramVec
	activeItems          prometheus.Gauge
	batchesCompleted     prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbatch_worker_items_total",
			Help: "Batch items processed by the worker, by store and final status.",
		}, []string{"store", "status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelbatch_worker_item_duration_seconds",
			Help:    "Processing duration for each batch item.",
			Buckets: prometheus.DefBuckets,
		}, []string{"store", "status"}),
		activeItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelbatch_worker_active_items",
			Help: "Current number of items being processed by the worker.",
		}),
		batchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbatch_worker_batches_completed_total",
			Help: "Batches whose last item was finished by this worker.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbatch_worker_pixels_processed_total",
			Help: "Output pixels written across all successful items.",
		}),
	}

	registry.MustRegister(
		m.itemsTotal,
		m.itemDuration,
		m.activeItems,
		m.batchesCompleted,
		m.pixelsProcessedTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
