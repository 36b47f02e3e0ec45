// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rollcall-dev/rollcall/internal/roster/reconcile"
)

// Metrics is a reconcile.Listener that records commands and pulls on its
// own registry.
type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	mirrorFailures *prometheus.CounterVec
	pulls          *prometheus.CounterVec
	pullDuration   prometheus.Histogram
	pulledRecords  *prometheus.GaugeVec
}

var _ reconcile.Listener = (*Metrics)(nil)

// New registers the collectors. pending reports the mirror's buffered write
// count and may be nil.
func New(pending func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_commands_total",
			Help: "Engine commands by operation and final state.",
		}, []string{"op", "state"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcall_command_duration_seconds",
			Help:    "Time spent in engine commands, including the mirror write.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_mirror_failures_total",
			Help: "Commands whose mirror write failed after a local commit.",
		}, []string{"op"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sync_pulls_total",
			Help: "Reconciliation pulls by result.",
		}, []string{"result"}),
		pullDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_sync_duration_seconds",
			Help:    "Duration of reconciliation pulls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		pulledRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rollcall_sync_records",
			Help: "Records applied by the last successful pull.",
		}, []string{"collection"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.commandLatency,
		m.mirrorFailures,
		m.pulls,
		m.pullDuration,
		m.pulledRecords,
		collectors.NewGoCollector(),
	)
	// Zero series for every op so dashboards see idle commands.
	for _, op := range reconcile.Ops {
		m.commandLatency.WithLabelValues(string(op))
		m.mirrorFailures.WithLabelValues(string(op))
	}
	if pending != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rollcall_mirror_pending",
			Help: "Mirror writes waiting in the pending buffer.",
		}, func() float64 { return float64(pending()) }))
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OnCommand(ev reconcile.Event) {
	op := string(ev.Op)
	state := ev.Receipt.State.String()
	switch {
	case ev.Err != nil && errors.Is(ev.Err, reconcile.ErrValidation):
		state = "rejected"
	case ev.Err != nil:
		state = "failed"
	case ev.Receipt.NoOp:
		state = "noop"
	}
	m.commands.WithLabelValues(op, state).Inc()
	m.commandLatency.WithLabelValues(op).Observe(ev.Duration.Seconds())
	if ev.Err == nil && ev.Receipt.State == reconcile.StateMirrorFailed {
		m.mirrorFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) OnSync(report reconcile.SyncReport, err error) {
	m.pullDuration.Observe(report.Duration.Seconds())
	if err != nil {
		m.pulls.WithLabelValues("failure").Inc()
		return
	}
	m.pulls.WithLabelValues("success").Inc()
	m.pulledRecords.WithLabelValues("students").Set(float64(report.Students))
	m.pulledRecords.WithLabelValues("courses").Set(float64(report.Courses))
	m.pulledRecords.WithLabelValues("enrollments").Set(float64(report.Enrollments))
	m.pulledRecords.WithLabelValues("attendance").Set(float64(report.Attendance))
	m.pulledRecords.WithLabelValues("dropped").Set(float64(report.Dropped))
}
