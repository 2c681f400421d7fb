// Package metrics provides Prometheus metrics for sync and call handling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadline"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// PendingActions is the current pending queue depth.
	PendingActions prometheus.Gauge
	// DrainsTotal counts drain cycles by trigger.
	DrainsTotal *prometheus.CounterVec
	// DrainsSkipped counts drains refused because one was already running.
	DrainsSkipped prometheus.Counter
	// ActionsTotal counts replayed actions by operation and result.
	ActionsTotal *prometheus.CounterVec
	// DrainDuration observes drain cycle latency.
	DrainDuration prometheus.Histogram
	// QueuedWrites counts writes deferred to the queue by table.
	QueuedWrites *prometheus.CounterVec
	// CallEvents counts telephony events by kind.
	CallEvents *prometheus.CounterVec
	// SessionsCompleted counts completed sessions by action.
	SessionsCompleted *prometheus.CounterVec
	// DuplicateLookups counts duplicate lookups by outcome (match, none, error, stale).
	DuplicateLookups *prometheus.CounterVec
	// Online is 1 while the remote store is reachable.
	Online prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PendingActions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_actions",
			Help:      "Number of mutations waiting in the pending queue",
		}),
		DrainsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drains_total",
			Help:      "Total number of drain cycles by trigger",
		}, []string{"trigger"}),
		DrainsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drains_skipped_total",
			Help:      "Drain requests ignored because a drain was in progress",
		}),
		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Replayed pending actions by operation and result",
		}, []string{"operation", "result"}),
		DrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drain_duration_seconds",
			Help:      "Duration of drain cycles in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		QueuedWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "queued_writes_total",
			Help:      "Writes deferred to the pending queue by table",
		}, []string{"table"}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "events_total",
			Help:      "Telephony events received by kind",
		}, []string{"kind"}),
		SessionsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "sessions_completed_total",
			Help:      "Completed call sessions by action",
		}, []string{"action"}),
		DuplicateLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "duplicates",
			Name:      "lookups_total",
			Help:      "Duplicate phone lookups by outcome",
		}, []string{"outcome"}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "1 when the remote store is reachable",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetPending records the pending queue depth.
func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingActions.Set(float64(n))
	}
}

// ObserveDrain records a finished drain cycle.
func (m *Metrics) ObserveDrain(trigger string, seconds float64) {
	if m != nil {
		m.DrainsTotal.WithLabelValues(trigger).Inc()
		m.DrainDuration.Observe(seconds)
	}
}

// DrainSkipped records a refused overlapping drain.
func (m *Metrics) DrainSkipped() {
	if m != nil {
		m.DrainsSkipped.Inc()
	}
}

// ActionResult records one replayed action.
func (m *Metrics) ActionResult(op string, ok bool) {
	if m == nil {
		return
	}
	result := "synced"
	if !ok {
		result = "failed"
	}
	m.ActionsTotal.WithLabelValues(op, result).Inc()
}

// WriteQueued records a write deferred to the queue.
func (m *Metrics) WriteQueued(table string) {
	if m != nil {
		m.QueuedWrites.WithLabelValues(table).Inc()
	}
}

// CallEvent records a telephony event.
func (m *Metrics) CallEvent(kind string) {
	if m != nil {
		m.CallEvents.WithLabelValues(kind).Inc()
	}
}

// SessionCompleted records a completed session.
func (m *Metrics) SessionCompleted(action string) {
	if m != nil {
		m.SessionsCompleted.WithLabelValues(action).Inc()
	}
}

// DuplicateLookup records a duplicate lookup outcome.
func (m *Metrics) DuplicateLookup(outcome string) {
	if m != nil {
		m.DuplicateLookups.WithLabelValues(outcome).Inc()
	}
}

// SetOnline records connectivity.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1
	}
	m.Online.Set(v)
}
