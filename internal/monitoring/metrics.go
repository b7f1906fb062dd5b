// Package monitoring exposes Prometheus metrics for the apply engine and
// entity resolution.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/context-graph/internal/model"
)

const namespace = "context_graph"

// Batch results recorded by ObserveBatch.
const (
	BatchOK       = "ok"
	BatchNotFound = "not_found"
	BatchFailed   = "save_failed"
	BatchDryRun   = "dry_run"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so callers never need to guard.
type Metrics struct {
	outcomes      *prometheus.CounterVec
	batches       *prometheus.CounterVec
	conflicts     prometheus.Counter
	mergeOps      *prometheus.CounterVec
	batchDuration prometheus.Histogram
	breakerState  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_outcomes_total",
			Help:      "Proposal outcomes by writer and status.",
		}, []string{"writer", "status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_batches_total",
			Help:      "Apply batches by result.",
		}, []string{"result"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_version_conflicts_total",
			Help:      "Saves rejected by the store's version check.",
		}),
		mergeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_operations_total",
			Help:      "Entity resolution merge log entries by kind.",
		}, []string{"kind"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_batch_duration_seconds",
			Help:      "Wall time of apply batches including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_breaker_open",
			Help:      "1 while the graph store circuit breaker is open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.batches, m.conflicts, m.mergeOps, m.batchDuration, m.breakerState)
	}
	return m
}

// ObserveBatch records one finished batch.
func (m *Metrics) ObserveBatch(res *model.ApplyResult, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(result).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
	if res == nil {
		return
	}
	writer := string(res.Writer)
	for _, o := range res.Outcomes {
		m.outcomes.WithLabelValues(writer, string(o.Status)).Inc()
	}
}

// Conflict counts one version conflict.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// ObserveMergeLog counts merge log entries by kind.
func (m *Metrics) ObserveMergeLog(log []model.MergeOperation) {
	if m == nil {
		return
	}
	for _, op := range log {
		m.mergeOps.WithLabelValues(string(op.Kind)).Inc()
	}
}

// BreakerOpen sets the breaker gauge.
func (m *Metrics) BreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerState.Set(1)
	} else {
		m.breakerState.Set(0)
	}
}
