// Package events publishes ticket lifecycle events to Kafka so downstream
// consumers (reporting, CRM sync) can react without polling the database.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Ticket event names.
const (
	TicketCreated  = "ticket.created"
	TicketReplied  = "ticket.replied"
	TicketResolved = "ticket.resolved"
	TicketUpdated  = "ticket.updated"
)

// TicketEventProducer publishes ticket events. Implemented by Producer and
// by stubs in tests.
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]any)
}

// Producer writes ticket events to a Kafka topic. Publishing is
// best-effort: failures are logged, never propagated, so a broker outage
// cannot stall webhook processing.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewProducer creates a producer. With no brokers or topic every method is
// a no-op, which lets local setups run without Kafka.
func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(brokers) == 0 || topic == "" {
		return &Producer{logger: logger}
	}
	return &Producer{
		topic:  topic,
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ProduceTicketEvent publishes one event. The ticket number keys the
// message so events for a ticket stay ordered within a partition.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]any) {
	if p.writer == nil {
		return
	}
	msg := map[string]any{
		"event":       event,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn("kafka marshal ticket event failed", "event", event, "error", err)
		return
	}
	var key []byte
	if num, ok := payload["ticket_number"].(string); ok {
		key = []byte(num)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		p.logger.Warn("kafka write ticket event failed", "event", event, "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
