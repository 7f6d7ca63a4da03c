package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics exports circuit breaker state per guarded dependency.
type BreakerMetrics struct {
	state    *prometheus.GaugeVec
	rejected *prometheus.CounterVec
}

// NewBreakerMetrics registers breaker metrics on the provided registerer.
func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	if reg == nil {
		return &BreakerMetrics{}
	}
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_rejected_total",
		Help: "Calls rejected without attempting the dependency.",
	}, []string{"name"})
	reg.MustRegister(state, rejected)
	return &BreakerMetrics{state: state, rejected: rejected}
}

// SetState records the numeric breaker state.
func (m *BreakerMetrics) SetState(name string, state int) {
	if m == nil || m.state == nil {
		return
	}
	m.state.WithLabelValues(normalizeLabel(name)).Set(float64(state))
}

// IncRejected counts a fail-fast rejection.
func (m *BreakerMetrics) IncRejected(name string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(name)).Inc()
}
