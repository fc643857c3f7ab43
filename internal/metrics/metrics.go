// Package metrics exposes Prometheus instrumentation for the offline core.
// All methods are nil-receiver safe so wiring metrics stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sync pipeline's instruments.
type Metrics struct {
	cycles    prometheus.Counter
	applied   prometheus.Counter
	failed    prometheus.Counter
	conflicts prometheus.Counter
	evictions prometheus.Counter
	queueLen  prometheus.Gauge
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "medisync_sync_cycles_total",
			Help: "Completed sync cycles.",
		}),
		applied: factory.NewCounter(prometheus.CounterOpts{
			Name: "medisync_sync_items_applied_total",
			Help: "Queue items successfully applied to the remote backend.",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "medisync_sync_items_failed_total",
			Help: "Queue item apply attempts that failed and were retained for retry.",
		}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "medisync_sync_conflicts_total",
			Help: "Write-write conflicts detected during drain.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "medisync_cache_evictions_total",
			Help: "Records evicted by cache expiry.",
		}),
		queueLen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medisync_sync_queue_depth",
			Help: "Pending mutations in the sync queue.",
		}),
	}
}

func (m *Metrics) CycleCompleted() {
	if m != nil {
		m.cycles.Inc()
	}
}

func (m *Metrics) ItemApplied() {
	if m != nil {
		m.applied.Inc()
	}
}

func (m *Metrics) ItemFailed() {
	if m != nil {
		m.failed.Inc()
	}
}

func (m *Metrics) ConflictDetected() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) Evicted(n int64) {
	if m != nil {
		m.evictions.Add(float64(n))
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueLen.Set(float64(n))
	}
}
