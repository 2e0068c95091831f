// Package metrics exposes Prometheus instrumentation for the width engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the engine.
type Metrics struct {
	Cycles             *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	WidthTasks         *prometheus.CounterVec
	BarFetches         *prometheus.CounterVec
	Orders             *prometheus.CounterVec
	TrackedUnderlyings prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "width_cycles_total", Help: "Calculation cycles by outcome"},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "width_cycle_duration_seconds",
			Help:    "Wall-clock duration of calculation cycles",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		WidthTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "width_tasks_total", Help: "Per-underlying width calculations by result"},
			[]string{"result"},
		),
		BarFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bar_fetches_total", Help: "Upstream bar fetches by result"},
			[]string{"result"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orders_total", Help: "Option buy orders by result"},
			[]string{"result"},
		),
		TrackedUnderlyings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracked_underlyings",
			Help: "Entries in the committed width result map",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.CycleDuration, m.WidthTasks, m.BarFetches, m.Orders, m.TrackedUnderlyings)
	}
	return m
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	return New(nil)
}
