package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts service operations per unit outcome.
type Metrics struct {
	operations *prometheus.CounterVec
	memoryUsed *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkserver",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Operations run against units, by operation and outcome.",
		}, []string{"op", "outcome"}),
		memoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "linkserver",
			Subsystem: "service",
			Name:      "unit_memory_used_ratio",
			Help:      "Last reported card table usage of a unit.",
		}, []string{"unit"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.memoryUsed)
	}
	return m
}

func (m *Metrics) observe(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) observeMemory(unit string, ratio float64) {
	if m == nil {
		return
	}
	m.memoryUsed.WithLabelValues(unit).Set(ratio)
}
