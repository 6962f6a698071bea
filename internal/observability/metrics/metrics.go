package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for webhook and ticket flows.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	ticketsTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watisupport",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound WATI webhooks",
		}, []string{"kind", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watisupport",
			Subsystem: "gateway",
			Name:      "outbound_total",
			Help:      "Total outbound WATI sends",
		}, []string{"status", "suppressed"}),
		ticketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watisupport",
			Subsystem: "tickets",
			Name:      "transitions_total",
			Help:      "Total ticket lifecycle transitions",
		}, []string{"event"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "watisupport",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of WATI webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.ticketsTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(kind, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *WebhookMetrics) ObserveOutbound(status string, suppressed bool) {
	if m == nil {
		return
	}
	label := "false"
	if suppressed {
		label = "true"
	}
	m.outboundTotal.WithLabelValues(status, label).Inc()
}

func (m *WebhookMetrics) ObserveTicketTransition(event string) {
	if m == nil {
		return
	}
	m.ticketsTotal.WithLabelValues(event).Inc()
}

func (m *WebhookMetrics) ObserveWebhookLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}
