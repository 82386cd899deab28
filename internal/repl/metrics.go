package repl

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the apply engine's counters. Each engine owns its own set so
// several engines (one per simulated replica) can share a process.
type Metrics struct {
	Applied         *prometheus.CounterVec
	Conflicts       *prometheus.CounterVec
	DeadlockRetries *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// NewMetrics creates the engine counters and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightwave",
			Subsystem: "repl",
			Name:      "changes",
		}, []string{"op", "outcome"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightwave",
			Subsystem: "repl",
			Name:      "conflicts",
		}, []string{"level", "winner"}),
		DeadlockRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightwave",
			Subsystem: "repl",
			Name:      "deadlock_retries",
		}, []string{"op"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lightwave",
			Subsystem: "repl",
			Name:      "apply_duration_seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Applied, m.Conflicts, m.DeadlockRetries, m.Duration)
	}
	return m
}
