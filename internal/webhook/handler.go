package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ironlady-tech/wati-support/internal/audit"
	"github.com/ironlady-tech/wati-support/internal/classifier"
	"github.com/ironlady-tech/wati-support/internal/dedup"
	"github.com/ironlady-tech/wati-support/internal/lifecycle"
	"github.com/ironlady-tech/wati-support/internal/observability/metrics"
	"github.com/ironlady-tech/wati-support/internal/ticket"
)

const maxBodyBytes = 256 << 10

// AuditStore is the slice of the audit log the handler writes.
type AuditStore interface {
	Append(ctx context.Context, rec audit.Record) (int64, error)
	SetOutcome(ctx context.Context, id int64, outcome string) error
}

// InboundHandler runs one contact message through the ticket state machine.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in lifecycle.Inbound) (lifecycle.Outcome, error)
}

// BotEchoHandler consumes the bot's own outgoing messages.
type BotEchoHandler interface {
	HandleBotEcho(ctx context.Context, phone, text string) (classifier.BotAction, error)
}

// DeliveryUpdater applies provider delivery receipts to the transcript.
type DeliveryUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status ticket.DeliveryStatus) error
}

// Handler is the WATI webhook ingress.
type Handler struct {
	cache    dedup.Cache
	audits   AuditStore
	inbound  InboundHandler
	botflow  BotEchoHandler
	delivery DeliveryUpdater
	metrics  *metrics.WebhookMetrics
	logger   *slog.Logger
}

// HandlerConfig wires the ingress collaborators. Metrics is optional.
type HandlerConfig struct {
	Cache    dedup.Cache
	Audits   AuditStore
	Inbound  InboundHandler
	BotFlow  BotEchoHandler
	Delivery DeliveryUpdater
	Metrics  *metrics.WebhookMetrics
	Logger   *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cache:    cfg.Cache,
		audits:   cfg.Audits,
		inbound:  cfg.Inbound,
		botflow:  cfg.BotFlow,
		delivery: cfg.Delivery,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Receive handles POST /webhooks/wati. The response is always HTTP 200:
// a non-2xx would trigger the provider's retry storm, so internal failures
// are logged and tagged, never signaled.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body read failed", "error", err)
		h.respond(w, "ignored", "body_read_failed")
		return
	}
	raw, err := ParseRawEvent(body)
	if err != nil {
		h.logger.Warn("webhook payload malformed", "error", err)
		h.respond(w, "ignored", "malformed")
		return
	}
	ev := raw.Normalize()

	if isDeliveryReceipt(ev) {
		h.handleDeliveryReceipt(ctx, ev)
		h.respond(w, "ok", "status_update")
		return
	}
	if ev.Phone == "" {
		h.logger.Info("webhook without phone dropped", "event_type", ev.EventType)
		h.respond(w, "ignored", "no_phone")
		return
	}
	if ev.Text == "" {
		h.respond(w, "ignored", "empty_text")
		return
	}

	if ev.Outgoing {
		h.respond(w, "ok", h.handleBotEcho(ctx, ev, body))
		return
	}

	outcome := h.handleInbound(ctx, ev, body)
	h.observe(ev, outcome, start)
	h.respond(w, "ok", outcome)
}

func (h *Handler) handleInbound(ctx context.Context, ev Event, body []byte) string {
	seen, err := h.cache.SeenInbound(ctx, ev.ID)
	if err != nil {
		// A broken cache must not drop traffic; process and rely on the
		// store's own idempotence.
		h.logger.Warn("dedup check failed, processing anyway", "event_id", ev.ID, "error", err)
	} else if seen {
		h.logger.Info("duplicate webhook suppressed", "event_id", ev.ID, "phone", ev.Phone)
		return "duplicate"
	}

	kind := classifier.Classify(ev.Text, ev.FromButton)
	auditID, err := h.audits.Append(ctx, audit.Record{
		EventID:    ev.ID,
		Phone:      ev.Phone,
		Direction:  audit.DirectionInbound,
		Kind:       string(kind),
		Text:       ev.Text,
		RawPayload: body,
		Outcome:    "received",
	})
	if err != nil {
		h.logger.Error("audit append failed", "event_id", ev.ID, "error", err)
	}

	outcome, err := h.inbound.HandleInbound(ctx, lifecycle.Inbound{
		Phone:             ev.Phone,
		Name:              ev.Name,
		Text:              ev.Text,
		FromButton:        ev.FromButton,
		ProviderMessageID: ev.ID,
	})
	if err != nil {
		// Release the dedup claim so a provider redelivery is not
		// silently suppressed after this failed write.
		if ferr := h.cache.Forget(ctx, ev.ID); ferr != nil {
			h.logger.Warn("dedup forget failed", "event_id", ev.ID, "error", ferr)
		}
		h.logger.Error("inbound processing failed", "event_id", ev.ID, "error", err)
		h.setOutcome(ctx, auditID, "error")
		return "error_logged"
	}
	h.setOutcome(ctx, auditID, string(outcome))
	return string(outcome)
}

func (h *Handler) handleBotEcho(ctx context.Context, ev Event, body []byte) string {
	// Echo processing mutates identities (enrollment, course interest),
	// so redelivered echoes need the same dedup claim as inbound traffic.
	seen, err := h.cache.SeenInbound(ctx, ev.ID)
	if err != nil {
		h.logger.Warn("dedup check failed, processing anyway", "event_id", ev.ID, "error", err)
	} else if seen {
		h.logger.Info("duplicate bot echo suppressed", "event_id", ev.ID, "phone", ev.Phone)
		return "duplicate"
	}

	action, err := h.botflow.HandleBotEcho(ctx, ev.Phone, ev.Text)
	if err != nil {
		if ferr := h.cache.Forget(ctx, ev.ID); ferr != nil {
			h.logger.Warn("dedup forget failed", "event_id", ev.ID, "error", ferr)
		}
		h.logger.Error("bot echo processing failed", "phone", ev.Phone, "error", err)
	}
	if _, aerr := h.audits.Append(ctx, audit.Record{
		EventID:    ev.ID,
		Phone:      ev.Phone,
		Direction:  audit.DirectionOutbound,
		Kind:       string(action),
		Text:       ev.Text,
		RawPayload: body,
		Outcome:    "bot_echo",
	}); aerr != nil {
		h.logger.Error("audit append failed", "event_id", ev.ID, "error", aerr)
	}
	return "bot_echo"
}

func (h *Handler) handleDeliveryReceipt(ctx context.Context, ev Event) {
	if ev.ID == "" || h.delivery == nil {
		return
	}
	err := h.delivery.UpdateDeliveryStatus(ctx, ev.ID, ticket.DeliveryStatus(ev.Status))
	if err != nil && !errors.Is(err, ticket.ErrNotFound) {
		h.logger.Warn("delivery status update failed", "provider_message_id", ev.ID, "error", err)
	}
}

func (h *Handler) setOutcome(ctx context.Context, auditID int64, outcome string) {
	if auditID == 0 {
		return
	}
	if err := h.audits.SetOutcome(ctx, auditID, outcome); err != nil {
		h.logger.Warn("audit outcome update failed", "audit_id", auditID, "error", err)
	}
}

func (h *Handler) observe(ev Event, outcome string, start time.Time) {
	kind := string(classifier.Classify(ev.Text, ev.FromButton))
	h.metrics.ObserveInbound(kind, outcome)
	h.metrics.ObserveWebhookLatency(kind, time.Since(start).Seconds())
}

func (h *Handler) respond(w http.ResponseWriter, result, tag string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"result": result, "status": tag})
}

func isDeliveryReceipt(ev Event) bool {
	switch ev.EventType {
	case "message-status", "messagestatus", "status", "sentmessagedelivered", "sentmessageread":
		return true
	}
	switch ev.Status {
	case "sent", "delivered", "read", "failed":
		return ev.Text == ""
	}
	return false
}
