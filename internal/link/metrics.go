package link

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts exchanges per unit, opcode and outcome. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	exchanges *prometheus.CounterVec
	attempts  *prometheus.HistogramVec
}

// NewMetrics registers the link collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "linkserver",
				Subsystem: "link",
				Name:      "exchanges_total",
				Help:      "Command/reply exchanges by unit, opcode and condition.",
			},
			[]string{"unit", "opcode", "condition"},
		),
		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "linkserver",
				Subsystem: "link",
				Name:      "exchange_attempts",
				Help:      "Attempts used per retried command.",
				Buckets:   []float64{1, 2, 3, 5, 8, 10},
			},
			[]string{"unit", "opcode"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.exchanges, m.attempts)
	}
	return m
}

func (m *Metrics) observeExchange(unit string, op Opcode, c Condition) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(unit, op.String(), c.String()).Inc()
}

func (m *Metrics) observeAttempts(unit string, op Opcode, n int) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(unit, op.String()).Observe(float64(n))
}
