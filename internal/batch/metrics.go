package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatched items. A nil *Metrics records nothing.
type Metrics struct {
	itemsTotal   *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	activeItems  prometheus.Gauge
	batchesTotal prometheus.Counter
}

// NewMetrics creates the dispatcher collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbatch_items_total",
			Help: "Processed batch items by final status and failing stage.",
		}, []string{"status", "stage"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelbatch_item_duration_seconds",
			Help:    "Processing duration for each batch item.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelbatch_active_items",
			Help: "Items currently being processed by the dispatcher.",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbatch_batches_total",
			Help: "Batches run by the dispatcher.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.itemsTotal, m.itemDuration, m.activeItems, m.batchesTotal)
	}
	return m
}

func (m *Metrics) batchStarted() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

func (m *Metrics) itemStarted() {
	if m == nil {
		return
	}
	m.activeItems.Inc()
}

func (m *Metrics) itemFinished(o Outcome) {
	if m == nil {
		return
	}
	m.activeItems.Dec()

	status := "succeeded"
	if !o.OK() {
		status = "failed"
	}
	m.itemsTotal.WithLabelValues(status, string(o.Stage)).Inc()
	m.itemDuration.WithLabelValues(status).Observe(o.Duration.Seconds())
}
