// Package lifecycle owns the support-ticket state machine. It consumes
// classifier output and conversation state and produces store mutations
// plus outbound gateway requests.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ironlady-tech/wati-support/internal/classifier"
	"github.com/ironlady-tech/wati-support/internal/events"
	"github.com/ironlady-tech/wati-support/internal/identity"
	"github.com/ironlady-tech/wati-support/internal/ticket"
	"github.com/ironlady-tech/wati-support/internal/wati"
)

var (
	// ErrReplyWindowClosed is returned when more than the session window
	// has passed since the contact's last inbound message.
	ErrReplyWindowClosed = errors.New("lifecycle: 24h reply window closed")
	// ErrTicketClosed is returned for agent actions on a resolved ticket.
	ErrTicketClosed = errors.New("lifecycle: ticket already resolved")
	// ErrGatewaySend wraps a provider failure on the agent-reply path.
	ErrGatewaySend = errors.New("lifecycle: gateway send failed")
)

// Outcome tags what processing an inbound message resulted in. Stored in
// the audit log and exported as a metric label.
type Outcome string

const (
	OutcomeAwaitingCategory Outcome = "awaiting_category_set"
	OutcomeTicketCreated    Outcome = "ticket_created"
	OutcomeTicketResolved   Outcome = "ticket_resolved"
	OutcomeFollowupPrompted Outcome = "followup_prompted"
	OutcomeFollowupRepeat   Outcome = "followup_repeat"
	OutcomeTranscriptAppend Outcome = "transcript_appended"
	OutcomeReopenedPending  Outcome = "reopened_pending"
	OutcomeFeedbackCaptured Outcome = "feedback_captured"
	OutcomeMenuEcho         Outcome = "menu_echo"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeNoAction         Outcome = "no_action"
)

// IdentityRepo is the slice of the identity repository the manager uses.
type IdentityRepo interface {
	GetOrCreateByPhone(ctx context.Context, phone, name string) (*identity.Identity, error)
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
	TouchInteraction(ctx context.Context, id string) error
	SetEmailIfEmpty(ctx context.Context, id, email string) error
	SetAwaitingCategory(ctx context.Context, id string, cat identity.AwaitingCategory) error
	SetHasOpenTicket(ctx context.Context, id string, open bool) error
	RecordFeedback(ctx context.Context, id, body string) error
}

// TicketStore is the slice of the ticket store the manager uses.
type TicketStore interface {
	Create(ctx context.Context, identityID string, category ticket.Category, initialMessage string) (*ticket.Ticket, error)
	FindActiveByIdentity(ctx context.Context, identityID string) (*ticket.Ticket, error)
	GetByID(ctx context.Context, id string) (*ticket.Ticket, error)
	AppendMessage(ctx context.Context, msg *ticket.Message) error
	SetStatus(ctx context.Context, id string, next ticket.Status) (*ticket.Ticket, error)
	MarkAgentReplied(ctx context.Context, id string) error
	Resolve(ctx context.Context, id, resolvedBy, notes string) (*ticket.Ticket, error)
}

// BotContext looks up what the upstream bot last said to a phone number.
// The audit store implements it.
type BotContext interface {
	LastOutboundBotText(ctx context.Context, phone string, horizon time.Duration) (string, error)
}

// Gateway is the outbound provider surface the manager drives.
type Gateway interface {
	SendText(ctx context.Context, phone, text string) wati.SendResult
	SendInteractiveButtons(ctx context.Context, phone, body string, labels []string) wati.SendResult
	AssignOperator(ctx context.Context, phone, operatorEmail string) wati.SendResult
	UnassignOperator(ctx context.Context, phone string) wati.SendResult
}

// Config wires the manager's collaborators.
type Config struct {
	Identities IdentityRepo
	Tickets    TicketStore
	Gateway    Gateway
	Producer   events.TicketEventProducer
	// BotContext is optional; without it feedback capture is disabled.
	BotContext BotContext
	Logger     *slog.Logger
	// OperatorEmail is assigned to newly created tickets.
	OperatorEmail string
	// ReplyWindow bounds agent replies after the last inbound message.
	ReplyWindow time.Duration
	Now         func() time.Time
}

// Manager drives ticket transitions for inbound messages and agent actions.
type Manager struct {
	identities    IdentityRepo
	tickets       TicketStore
	gateway       Gateway
	producer      events.TicketEventProducer
	botContext    BotContext
	logger        *slog.Logger
	operatorEmail string
	replyWindow   time.Duration
	now           func() time.Time
}

func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.ReplyWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		identities:    cfg.Identities,
		tickets:       cfg.Tickets,
		gateway:       cfg.Gateway,
		producer:      cfg.Producer,
		botContext:    cfg.BotContext,
		logger:        logger,
		operatorEmail: cfg.OperatorEmail,
		replyWindow:   window,
		now:           now,
	}
}

// Inbound is one normalized contact message, ready for classification.
type Inbound struct {
	Phone             string
	Name              string
	Text              string
	FromButton        bool
	ProviderMessageID string
}

// HandleInbound runs one contact message through the state machine and
// returns the processing outcome.
func (m *Manager) HandleInbound(ctx context.Context, in Inbound) (Outcome, error) {
	ident, err := m.identities.GetOrCreateByPhone(ctx, in.Phone, in.Name)
	if err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: load identity: %w", err)
	}

	if err := m.identities.TouchInteraction(ctx, ident.ID); err != nil {
		m.logger.Warn("touch interaction failed", "identity_id", ident.ID, "error", err)
	}

	kind := classifier.Classify(in.Text, in.FromButton)

	// Menu echoes are the upstream bot's own UI. They never touch ticket
	// state and never produce output, even when a ticket is open.
	if kind == classifier.KindChatbotMenuEcho {
		return OutcomeMenuEcho, nil
	}

	// Email capture is a side channel: it updates the identity and then
	// lets the ticket flow continue on the same message.
	if email := classifier.ExtractEmail(in.Text); email != "" && ident.Email == "" {
		if err := m.identities.SetEmailIfEmpty(ctx, ident.ID, email); err != nil {
			m.logger.Warn("email capture failed", "identity_id", ident.ID, "error", err)
		} else {
			m.logger.Info("captured contact email", "identity_id", ident.ID)
		}
	}

	active, err := m.tickets.FindActiveByIdentity(ctx, ident.ID)
	if err != nil && !errors.Is(err, ticket.ErrNotFound) {
		return OutcomeNoAction, fmt.Errorf("lifecycle: find active ticket: %w", err)
	}

	switch kind {
	case classifier.KindIgnore:
		return OutcomeIgnored, nil
	case classifier.KindQueryButton, classifier.KindConcernButton:
		if active != nil {
			// An open ticket absorbs repeated button taps as content.
			return m.appendToTicket(ctx, active, in)
		}
		return m.armCategory(ctx, ident, kind, in.Phone)
	case classifier.KindSatisfactionYes:
		if active == nil {
			return OutcomeNoAction, nil
		}
		return m.resolveBySatisfaction(ctx, ident, active, in.Phone)
	case classifier.KindSatisfactionNo:
		if active == nil {
			return OutcomeNoAction, nil
		}
		return m.promptFollowup(ctx, active, in)
	default: // KindRegular
		if active != nil {
			return m.appendToTicket(ctx, active, in)
		}
		if ident.AwaitingCategory == identity.AwaitingQuery || ident.AwaitingCategory == identity.AwaitingConcern {
			return m.createTicket(ctx, ident, in)
		}
		if m.inFeedbackContext(ctx, in.Phone) {
			return m.captureFeedback(ctx, ident, in)
		}
		return OutcomeNoAction, nil
	}
}

// inFeedbackContext reports whether the bot's most recent message to the
// phone was a feedback prompt, making this inbound text the answer.
func (m *Manager) inFeedbackContext(ctx context.Context, phone string) bool {
	if m.botContext == nil {
		return false
	}
	text, err := m.botContext.LastOutboundBotText(ctx, phone, feedbackHorizon)
	if err != nil {
		return false
	}
	return classifier.ClassifyBotEcho(text).Marker == "feedback_prompt_sent"
}

const feedbackHorizon = 10 * time.Minute

func (m *Manager) captureFeedback(ctx context.Context, ident *identity.Identity, in Inbound) (Outcome, error) {
	if err := m.identities.RecordFeedback(ctx, ident.ID, in.Text); err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: record feedback: %w", err)
	}
	m.logger.Info("feedback captured", "identity_id", ident.ID)
	return OutcomeFeedbackCaptured, nil
}

func (m *Manager) armCategory(ctx context.Context, ident *identity.Identity, kind classifier.Kind, phone string) (Outcome, error) {
	cat := identity.AwaitingQuery
	if kind == classifier.KindConcernButton {
		cat = identity.AwaitingConcern
	}
	if err := m.identities.SetAwaitingCategory(ctx, ident.ID, cat); err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: arm category: %w", err)
	}
	m.notify(ctx, phone, describePrompt(cat))
	return OutcomeAwaitingCategory, nil
}

func (m *Manager) createTicket(ctx context.Context, ident *identity.Identity, in Inbound) (Outcome, error) {
	cat := ticket.CategoryQuery
	if ident.AwaitingCategory == identity.AwaitingConcern {
		cat = ticket.CategoryConcern
	}
	tkt, err := m.tickets.Create(ctx, ident.ID, cat, in.Text)
	if err != nil {
		if errors.Is(err, ticket.ErrActiveTicketExists) {
			// Lost the race to a concurrent delivery; route there instead.
			if active, findErr := m.tickets.FindActiveByIdentity(ctx, ident.ID); findErr == nil {
				return m.appendToTicket(ctx, active, in)
			}
		}
		return OutcomeNoAction, fmt.Errorf("lifecycle: create ticket: %w", err)
	}

	// The store clears the marker inside the create transaction; clearing
	// it here as well keeps the state machine correct against any ticket
	// store implementation.
	if err := m.identities.SetAwaitingCategory(ctx, ident.ID, identity.AwaitingNone); err != nil {
		m.logger.Warn("clear awaiting-category failed", "identity_id", ident.ID, "error", err)
	}

	if m.operatorEmail != "" {
		if res := m.gateway.AssignOperator(ctx, in.Phone, m.operatorEmail); res.Err != nil {
			m.logger.Warn("operator assignment failed", "ticket", tkt.Number, "error", res.Err)
		}
	}
	m.notify(ctx, in.Phone, ticketCreatedText(tkt.Number))
	m.produce(ctx, events.TicketCreated, tkt)
	m.logger.Info("ticket created", "ticket", tkt.Number, "category", string(cat))
	return OutcomeTicketCreated, nil
}

func (m *Manager) resolveBySatisfaction(ctx context.Context, ident *identity.Identity, active *ticket.Ticket, phone string) (Outcome, error) {
	tkt, err := m.tickets.Resolve(ctx, active.ID, "contact", "confirmed resolved via satisfaction prompt")
	if err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: resolve ticket: %w", err)
	}
	if err := m.identities.SetHasOpenTicket(ctx, ident.ID, false); err != nil {
		m.logger.Warn("clear open-ticket flag failed", "identity_id", ident.ID, "error", err)
	}
	m.notify(ctx, phone, resolvedThanksText)
	if res := m.gateway.UnassignOperator(ctx, phone); res.Err != nil {
		m.logger.Warn("operator unassignment failed", "ticket", tkt.Number, "error", res.Err)
	}
	m.produce(ctx, events.TicketResolved, tkt)
	m.logger.Info("ticket resolved by contact", "ticket", tkt.Number)
	return OutcomeTicketResolved, nil
}

func (m *Manager) promptFollowup(ctx context.Context, active *ticket.Ticket, in Inbound) (Outcome, error) {
	if active.Status == ticket.StatusAwaitingFollowup {
		// Already asked; do not stack duplicate prompts.
		return OutcomeFollowupRepeat, nil
	}
	msg := &ticket.Message{
		TicketID:          active.ID,
		Direction:         ticket.DirectionInbound,
		Body:              in.Text,
		ProviderMessageID: in.ProviderMessageID,
		Author:            "contact",
	}
	if err := m.tickets.AppendMessage(ctx, msg); err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: append followup: %w", err)
	}
	if _, err := m.tickets.SetStatus(ctx, active.ID, ticket.StatusAwaitingFollowup); err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: mark awaiting followup: %w", err)
	}
	m.notify(ctx, in.Phone, followupPromptText)
	return OutcomeFollowupPrompted, nil
}

func (m *Manager) appendToTicket(ctx context.Context, active *ticket.Ticket, in Inbound) (Outcome, error) {
	msg := &ticket.Message{
		TicketID:          active.ID,
		Direction:         ticket.DirectionInbound,
		Body:              in.Text,
		ProviderMessageID: in.ProviderMessageID,
		Author:            "contact",
	}
	if err := m.tickets.AppendMessage(ctx, msg); err != nil {
		return OutcomeNoAction, fmt.Errorf("lifecycle: append message: %w", err)
	}
	if active.Status == ticket.StatusAwaitingFollowup {
		if _, err := m.tickets.SetStatus(ctx, active.ID, ticket.StatusPending); err != nil {
			return OutcomeNoAction, fmt.Errorf("lifecycle: reopen pending: %w", err)
		}
		m.notify(ctx, in.Phone, stillInProgressText)
		return OutcomeReopenedPending, nil
	}
	// Ongoing conversation: append silently, no confirmation spam.
	return OutcomeTranscriptAppend, nil
}

// AgentReply sends an operator reply through the gateway and records it.
// The send happens first; a provider failure leaves the transcript
// untouched so the operator can retry.
func (m *Manager) AgentReply(ctx context.Context, ticketID, agentName, body string) (*ticket.Ticket, error) {
	tkt, err := m.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if tkt.Status == ticket.StatusResolved {
		return nil, ErrTicketClosed
	}
	if m.now().Sub(tkt.LastInboundAt) > m.replyWindow {
		return nil, ErrReplyWindowClosed
	}
	ident, err := m.identities.GetByID(ctx, tkt.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load ticket identity: %w", err)
	}

	res := m.gateway.SendText(ctx, ident.Phone, body)
	if !res.Success {
		return nil, fmt.Errorf("%w: %w", ErrGatewaySend, res.Err)
	}

	msg := &ticket.Message{
		TicketID:          tkt.ID,
		Direction:         ticket.DirectionOutbound,
		Body:              body,
		ProviderMessageID: res.ProviderMessageID,
		DeliveryStatus:    ticket.DeliverySent,
		Author:            agentName,
	}
	if err := m.tickets.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("lifecycle: record reply: %w", err)
	}
	if err := m.tickets.MarkAgentReplied(ctx, tkt.ID); err != nil {
		return nil, fmt.Errorf("lifecycle: mark agent replied: %w", err)
	}
	m.produce(ctx, events.TicketReplied, tkt)
	return m.tickets.GetByID(ctx, ticketID)
}

// UpdateStatus applies an operator-driven status change. Resolving through
// here clears the identity's open-ticket flag and notifies the contact
// best-effort.
func (m *Manager) UpdateStatus(ctx context.Context, ticketID string, next ticket.Status, by, notes string) (*ticket.Ticket, error) {
	if next == ticket.StatusResolved {
		tkt, err := m.tickets.Resolve(ctx, ticketID, by, notes)
		if err != nil {
			return nil, err
		}
		if err := m.identities.SetHasOpenTicket(ctx, tkt.IdentityID, false); err != nil {
			m.logger.Warn("clear open-ticket flag failed", "identity_id", tkt.IdentityID, "error", err)
		}
		if ident, err := m.identities.GetByID(ctx, tkt.IdentityID); err == nil {
			m.notify(ctx, ident.Phone, resolvedThanksText)
			if res := m.gateway.UnassignOperator(ctx, ident.Phone); res.Err != nil {
				m.logger.Warn("operator unassignment failed", "ticket", tkt.Number, "error", res.Err)
			}
		}
		m.produce(ctx, events.TicketResolved, tkt)
		return tkt, nil
	}
	tkt, err := m.tickets.SetStatus(ctx, ticketID, next)
	if err != nil {
		return nil, err
	}
	m.produce(ctx, events.TicketUpdated, tkt)
	return tkt, nil
}

// notify sends a best-effort system message. Failures are logged and
// swallowed; local state is already committed and is the source of truth.
func (m *Manager) notify(ctx context.Context, phone, text string) {
	res := m.gateway.SendText(ctx, phone, text)
	if !res.Success {
		m.logger.Warn("system notification failed", "phone", phone, "error", res.Err)
	}
}

func (m *Manager) produce(ctx context.Context, event string, tkt *ticket.Ticket) {
	if m.producer == nil {
		return
	}
	m.producer.ProduceTicketEvent(ctx, event, map[string]any{
		"ticket_id":     tkt.ID,
		"ticket_number": tkt.Number,
		"identity_id":   tkt.IdentityID,
		"category":      string(tkt.Category),
		"status":        string(tkt.Status),
	})
}
