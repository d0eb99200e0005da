package actions

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the action executor.
type Metrics struct {
	ActionsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns action metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_actions_total",
			Help: "Total remediation actions by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.ActionsTotal)
	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAction: func(op, result string) {
			m.ActionsTotal.WithLabelValues(op, result).Inc()
		},
	}
}
