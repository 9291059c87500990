package run

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the controller state and run outcomes.
type Metrics struct {
	state prometheus.Gauge
	runs  *prometheus.CounterVec
}

// NewMetrics registers the run collectors with reg (default registry when nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studio",
			Subsystem: "run",
			Name:      "state",
			Help:      "Current run controller state (0 idle, 1 starting, 2 running).",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "run",
			Name:      "completed_total",
			Help:      "Runs that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
	}
	if err := reg.Register(m.state); err != nil {
		return nil, err
	}
	if err := reg.Register(m.runs); err != nil {
		reg.Unregister(m.state)
		return nil, err
	}
	return m, nil
}

func (m *Metrics) transition(to State) {
	if m == nil {
		return
	}
	switch to {
	case StateFinished, StateFailed, StateCancelled:
		m.runs.WithLabelValues(to.String()).Inc()
	default:
		m.state.Set(float64(to))
	}
}
