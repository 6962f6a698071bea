package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWebhookMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveInbound("query_button", "ticket_created")
	m.ObserveOutbound("sent", false)
	m.ObserveTicketTransition("ticket.created")
	m.ObserveWebhookLatency("query_button", 0.5)
}

func TestWebhookMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveOutbound("sent", true)
}

func TestWebhookMetricsNilSafe(t *testing.T) {
	var m *WebhookMetrics
	m.ObserveInbound("kind", "outcome")
	m.ObserveOutbound("sent", false)
	m.ObserveTicketTransition("ticket.resolved")
	m.ObserveWebhookLatency("kind", 0.1)
}
