package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound payment webhooks by gateway and result.
type WebhookMetrics struct {
	received *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counter on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Payment webhooks by gateway and result (applied, duplicate, rejected, ignored, error).",
	}, []string{"gateway", "result"})
	reg.MustRegister(received)
	return &WebhookMetrics{received: received}
}

// Inc counts one webhook delivery.
func (m *WebhookMetrics) Inc(gateway, result string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(gateway), normalizeLabel(result)).Inc()
}
