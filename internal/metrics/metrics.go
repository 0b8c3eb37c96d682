// Package metrics registers the Prometheus instruments for the transfer
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline instruments. One instance is created at startup
// and threaded through the container.
type Metrics struct {
	TransfersCompleted prometheus.Counter
	TransfersReplayed  prometheus.Counter
	TransfersFailed    *prometheus.CounterVec
	FraudBlocked       prometheus.Counter
	PublishFailures    *prometheus.CounterVec
	TransferDuration   prometheus.Histogram
	FraudScore         prometheus.Histogram
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paisad",
			Name:      "transfers_completed_total",
			Help:      "Transfers that committed and moved money.",
		}),
		TransfersReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paisad",
			Name:      "transfers_replayed_total",
			Help:      "Idempotent replays served from cache or the database backstop.",
		}),
		TransfersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paisad",
			Name:      "transfers_failed_total",
			Help:      "Transfers rejected or failed, by reason code.",
		}, []string{"reason"}),
		FraudBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paisad",
			Name:      "fraud_blocked_total",
			Help:      "Transfers blocked by the fraud decision gate.",
		}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paisad",
			Name:      "event_publish_failures_total",
			Help:      "Post-commit event publish failures, by topic.",
		}, []string{"topic"}),
		TransferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paisad",
			Name:      "transfer_duration_seconds",
			Help:      "End-to-end transfer pipeline latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		FraudScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paisad",
			Name:      "fraud_score",
			Help:      "Distribution of fraud scores on evaluated transfers.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
	}

	reg.MustRegister(
		m.TransfersCompleted,
		m.TransfersReplayed,
		m.TransfersFailed,
		m.FraudBlocked,
		m.PublishFailures,
		m.TransferDuration,
		m.FraudScore,
	)
	return m
}

// NewNop creates unregistered instruments for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
