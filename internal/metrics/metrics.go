// Package metrics exposes pass and scale outcomes as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"schedscaler/internal/reconcile"
)

const namespace = "schedscaler"

// Metrics implements reconcile.Recorder.
type Metrics struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	resources    prometheus.Gauge
	results      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	lastSuccess  prometheus.Gauge
	window       prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconcile passes by outcome (committed, list_error, interrupted).",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one reconcile pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms up to ~80s
		}),
		resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources",
			Help:      "Scalable resources seen by the last pass.",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_results_total",
			Help:      "Per-resource outcomes by kind and status.",
		}, []string{"kind", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Per-resource errors by stage.",
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_committed_pass_timestamp_seconds",
			Help:      "Window end of the last committed pass, unix seconds.",
		}),
		window: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_seconds",
			Help:      "Width of the last evaluated window.",
		}),
	}
	reg.MustRegister(m.passes, m.passDuration, m.resources, m.results, m.errors, m.lastSuccess, m.window)
	return m
}

func (m *Metrics) ObservePass(r *reconcile.Report) {
	if r == nil {
		return
	}
	switch {
	case r.ListError != nil:
		m.passes.WithLabelValues("list_error").Inc()
		m.errors.WithLabelValues(string(reconcile.StageList)).Inc()
	case r.Committed:
		m.passes.WithLabelValues("committed").Inc()
		m.lastSuccess.Set(float64(r.Window.Cur.Unix()))
	default:
		m.passes.WithLabelValues("interrupted").Inc()
	}
	m.passDuration.Observe(r.Took.Seconds())
	m.window.Set(r.Window.Cur.Sub(r.Window.Prev).Seconds())
	if r.ListError != nil {
		return
	}

	m.resources.Set(float64(len(r.Results)))
	for i := range r.Results {
		res := &r.Results[i]
		m.results.WithLabelValues(res.Ref.Kind, string(res.Status)).Inc()
		for _, e := range res.Errors {
			m.errors.WithLabelValues(string(e.Stage)).Inc()
		}
	}
}

var _ reconcile.Recorder = (*Metrics)(nil)
