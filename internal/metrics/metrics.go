// Package metrics provides Prometheus instrumentation for the reconciler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "certsync"

// Metrics holds the reconciler collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	syncsTotal       *prometheus.CounterVec
	syncTierFailures *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	reloadsTotal     *prometheus.CounterVec
	pendingTotal     prometheus.Gauge
	trainersTotal    prometheus.Gauge
	feedConnected    prometheus.Gauge
}

// New registers the reconciler collectors with reg.
// If reg is nil, it returns nil (no-op metrics).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Certification events processed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		syncsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "specialization_syncs_total",
			Help:      "Finished specialization sync chains, by final tier and success",
		}, []string{"tier", "success"}),
		syncTierFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "specialization_sync_tier_failures_total",
			Help:      "Specialization sync tiers that failed and fell through",
		}, []string{"tier"}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "specialization_sync_duration_seconds",
			Help:      "Duration of specialization sync chains in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),
		reloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_reloads_total",
			Help:      "Bulk reloads, by result",
		}, []string{"result"}),
		pendingTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_certifications",
			Help:      "Pending certification records currently held",
		}),
		trainersTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trainers",
			Help:      "Trainers currently loaded",
		}),
		feedConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 while the push feed connection is up",
		}),
	}
}

// RecordEvent counts one processed event.
func (m *Metrics) RecordEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordSync records a finished specialization sync chain.
func (m *Metrics) RecordSync(tier string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncsTotal.WithLabelValues(tier, boolLabel(success)).Inc()
	m.syncDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
}

// RecordTierFailure counts a sync tier that fell through to the next one.
func (m *Metrics) RecordTierFailure(tier string) {
	if m == nil {
		return
	}
	m.syncTierFailures.WithLabelValues(tier).Inc()
}

// RecordReload counts a finished bulk reload.
func (m *Metrics) RecordReload(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
}

// SetState records the current store sizes.
func (m *Metrics) SetState(trainers, pending int) {
	if m == nil {
		return
	}
	m.trainersTotal.Set(float64(trainers))
	m.pendingTotal.Set(float64(pending))
}

// SetFeedConnected records the push feed connection state.
func (m *Metrics) SetFeedConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.feedConnected.Set(1)
	} else {
		m.feedConnected.Set(0)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
