// Package metrics bundles the prometheus collectors for check cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CyclesTotal        prometheus.Counter
	ChecksTotal        prometheus.Counter
	ChangesTotal       prometheus.Counter
	FailuresTotal      prometheus.Counter
	NotificationsTotal prometheus.Counter
	ProductsTracked    prometheus.Gauge
	CycleDuration      prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restockbot_cycles_total",
			Help: "Completed check cycles.",
		}),
		ChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restockbot_checks_total",
			Help: "Per-product checks attempted.",
		}),
		ChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restockbot_changes_total",
			Help: "Detected availability or price changes.",
		}),
		FailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restockbot_failures_total",
			Help: "Per-product check failures (fetch or extract).",
		}),
		NotificationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restockbot_notifications_total",
			Help: "Notifications delivered to the user.",
		}),
		ProductsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restockbot_products_tracked",
			Help: "Currently tracked products.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "restockbot_cycle_duration_seconds",
			Help:    "Wall time per check cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	reg.MustRegister(
		m.CyclesTotal,
		m.ChecksTotal,
		m.ChangesTotal,
		m.FailuresTotal,
		m.NotificationsTotal,
		m.ProductsTracked,
		m.CycleDuration,
	)
	return m
}
