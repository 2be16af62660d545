package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-supervisor counters exposed on /metrics.
type Metrics struct {
	Calls  *prometheus.CounterVec
	Alerts *prometheus.CounterVec
}

// NewMetrics creates and registers the supervisor counters. reg may be nil
// to skip registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentineld",
			Subsystem: "supervisor",
			Name:      "calls_total",
			Help:      "Number of analyze invocations per supervisor node.",
		}, []string{"supervisor"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentineld",
			Subsystem: "supervisor",
			Name:      "alerts_total",
			Help:      "Number of alert results per supervisor node.",
		}, []string{"supervisor"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Alerts)
	}
	return m
}
