package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kb_pool_queue_depth",
			Help: "Current worker pool queue depth, by pool name.",
		},
		[]string{"pool"},
	)

	completedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_pool_completed_total",
			Help: "Total tasks completed by the worker pool, by pool name and outcome.",
		},
		[]string{"pool", "outcome"},
	)

	latencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kb_pool_task_duration_seconds",
			Help:    "Worker pool task latency in seconds, by pool name.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)
)

// ObserveSnapshot publishes a point-in-time Snapshot to Prometheus under
// name, the same label a host uses to distinguish multiple pools (e.g.
// one per backend mode) in /metrics output.
func ObserveSnapshot(name string, snap Snapshot) {
	queueDepthGauge.WithLabelValues(name).Set(float64(snap.QueueDepth))
}

// observeTask records one completed task's outcome and latency under
// name; called from the worker loop alongside Stats.Record so the two
// stay in lockstep.
func observeTask(name string, d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	completedTotal.WithLabelValues(name, outcome).Inc()
	latencySeconds.WithLabelValues(name).Observe(d.Seconds())
}
