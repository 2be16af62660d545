package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler instruments exposed on /metrics.
type Metrics struct {
	Processed  prometheus.Counter
	Timeouts   prometheus.Counter
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers the scheduler instruments. reg may be
// nil to skip registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentineld",
			Subsystem: "scheduler",
			Name:      "chunks_processed_total",
			Help:      "Number of chunks that completed analysis, including timeouts.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentineld",
			Subsystem: "scheduler",
			Name:      "timeouts_total",
			Help:      "Number of traversals that lost the deadline race.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentineld",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Chunks waiting behind the in-flight traversal.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Processed, m.Timeouts, m.QueueDepth)
	}
	return m
}
