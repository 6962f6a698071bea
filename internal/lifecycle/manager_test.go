package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ironlady-tech/wati-support/internal/identity"
	"github.com/ironlady-tech/wati-support/internal/ticket"
	"github.com/ironlady-tech/wati-support/internal/wati"
	"github.com/stretchr/testify/require"
)

type fakeIdentities struct {
	mu        sync.Mutex
	byID      map[string]*identity.Identity
	feedbacks map[string][]string
	nextID    int
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byID: map[string]*identity.Identity{}, feedbacks: map[string][]string{}}
}

func (f *fakeIdentities) GetOrCreateByPhone(_ context.Context, phone, name string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	phone = identity.NormalizePhone(phone)
	for _, id := range f.byID {
		if id.Phone == phone {
			cp := *id
			return &cp, nil
		}
	}
	f.nextID++
	ident := &identity.Identity{
		ID:    fmt.Sprintf("ident-%d", f.nextID),
		Phone: phone,
		Name:  name,
	}
	f.byID[ident.ID] = ident
	cp := *ident
	return &cp, nil
}

func (f *fakeIdentities) GetByID(_ context.Context, id string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (f *fakeIdentities) TouchInteraction(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.byID[id]; ok {
		ident.LastInteraction = time.Now()
	}
	return nil
}

func (f *fakeIdentities) SetEmailIfEmpty(_ context.Context, id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.byID[id]; ok && ident.Email == "" {
		ident.Email = email
	}
	return nil
}

func (f *fakeIdentities) SetAwaitingCategory(_ context.Context, id string, cat identity.AwaitingCategory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.byID[id]; ok {
		ident.AwaitingCategory = cat
	}
	return nil
}

func (f *fakeIdentities) SetHasOpenTicket(_ context.Context, id string, open bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.byID[id]; ok {
		ident.HasOpenTicket = open
	}
	return nil
}

func (f *fakeIdentities) RecordFeedback(_ context.Context, id, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbacks[id] = append(f.feedbacks[id], body)
	return nil
}

// fakeBotContext replays the bot's last outbound text.
type fakeBotContext struct {
	text string
}

func (f *fakeBotContext) LastOutboundBotText(_ context.Context, _ string, _ time.Duration) (string, error) {
	if f.text == "" {
		return "", errors.New("no outbound text")
	}
	return f.text, nil
}

type fakeTickets struct {
	mu       sync.Mutex
	byID     map[string]*ticket.Ticket
	messages map[string][]*ticket.Message
	nextSeq  int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{byID: map[string]*ticket.Ticket{}, messages: map[string][]*ticket.Message{}}
}

func (f *fakeTickets) Create(_ context.Context, identityID string, category ticket.Category, initialMessage string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.IdentityID == identityID && t.Status.Active() {
			return nil, ticket.ErrActiveTicketExists
		}
	}
	f.nextSeq++
	now := time.Now().UTC()
	tkt := &ticket.Ticket{
		ID:             fmt.Sprintf("tkt-%d", f.nextSeq),
		Number:         ticket.FormatNumber("IL", now.Year(), f.nextSeq),
		IdentityID:     identityID,
		Category:       category,
		InitialMessage: initialMessage,
		Status:         ticket.StatusPending,
		CreatedAt:      now,
		LastInboundAt:  now,
	}
	f.byID[tkt.ID] = tkt
	f.messages[tkt.ID] = []*ticket.Message{{
		TicketID: tkt.ID, Direction: ticket.DirectionInbound, Body: initialMessage, Author: "contact",
	}}
	cp := *tkt
	return &cp, nil
}

func (f *fakeTickets) FindActiveByIdentity(_ context.Context, identityID string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.IdentityID == identityID && t.Status.Active() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ticket.ErrNotFound
}

func (f *fakeTickets) GetByID(_ context.Context, id string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) AppendMessage(_ context.Context, msg *ticket.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.TicketID] = append(f.messages[msg.TicketID], msg)
	if t, ok := f.byID[msg.TicketID]; ok && msg.Direction == ticket.DirectionInbound {
		t.LastInboundAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeTickets) SetStatus(_ context.Context, id string, next ticket.Status) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	if !t.Status.CanTransition(next) {
		return nil, ticket.ErrInvalidTransition
	}
	t.Status = next
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) MarkAgentReplied(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return ticket.ErrNotFound
	}
	now := time.Now().UTC()
	if t.Status == ticket.StatusPending {
		t.Status = ticket.StatusInProgress
	}
	t.LastAgentReply = &now
	return nil
}

func (f *fakeTickets) Resolve(_ context.Context, id, resolvedBy, notes string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	if t.Status == ticket.StatusResolved {
		return nil, ticket.ErrInvalidTransition
	}
	now := time.Now().UTC()
	t.Status = ticket.StatusResolved
	t.ResolvedAt = &now
	t.ResolvedBy = resolvedBy
	t.ResolutionNotes = notes
	cp := *t
	return &cp, nil
}

type gatewayCall struct {
	op    string
	phone string
	text  string
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []gatewayCall
	failText bool
}

func (g *fakeGateway) record(op, phone, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{op: op, phone: phone, text: text})
}

func (g *fakeGateway) SendText(_ context.Context, phone, text string) wati.SendResult {
	g.record("text", phone, text)
	if g.failText {
		return wati.SendResult{Err: errors.New("provider down")}
	}
	return wati.SendResult{Success: true, ProviderMessageID: "wamid.test"}
}

func (g *fakeGateway) SendInteractiveButtons(_ context.Context, phone, body string, _ []string) wati.SendResult {
	g.record("buttons", phone, body)
	return wati.SendResult{Success: true}
}

func (g *fakeGateway) AssignOperator(_ context.Context, phone, _ string) wati.SendResult {
	g.record("assign", phone, "")
	return wati.SendResult{Success: true}
}

func (g *fakeGateway) UnassignOperator(_ context.Context, phone string) wati.SendResult {
	g.record("unassign", phone, "")
	return wati.SendResult{Success: true}
}

func (g *fakeGateway) ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.op)
	}
	return out
}

type fakeProducer struct {
	mu     sync.Mutex
	events []string
}

func (p *fakeProducer) ProduceTicketEvent(_ context.Context, event string, _ map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type harness struct {
	mgr       *Manager
	idents    *fakeIdentities
	tickets   *fakeTickets
	gateway   *fakeGateway
	producer  *fakeProducer
	botCtx    *fakeBotContext
	clockSkew *time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		idents:    newFakeIdentities(),
		tickets:   newFakeTickets(),
		gateway:   &fakeGateway{},
		producer:  &fakeProducer{},
		botCtx:    &fakeBotContext{},
		clockSkew: new(time.Duration),
	}
	h.mgr = New(Config{
		Identities:    h.idents,
		Tickets:       h.tickets,
		Gateway:       h.gateway,
		Producer:      h.producer,
		BotContext:    h.botCtx,
		OperatorEmail: "agent@ironlady.in",
		ReplyWindow:   24 * time.Hour,
		Now:           func() time.Time { return time.Now().UTC().Add(*h.clockSkew) },
	})
	return h
}

const contactPhone = "919876543210"

func TestConcernFlowEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Name: "Asha", Text: "raise a concern"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingCategory, out)

	ident, err := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.NoError(t, err)
	require.Equal(t, identity.AwaitingConcern, ident.AwaitingCategory)

	out, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "my invoice is wrong"})
	require.NoError(t, err)
	require.Equal(t, OutcomeTicketCreated, out)

	tkt, err := h.tickets.FindActiveByIdentity(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.CategoryConcern, tkt.Category)
	require.Equal(t, "my invoice is wrong", tkt.InitialMessage)
	require.Equal(t, ticket.StatusPending, tkt.Status)
	ident, _ = h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.Equal(t, identity.AwaitingNone, ident.AwaitingCategory, "creation consumes the category marker")
	require.Contains(t, h.gateway.ops(), "assign")
	require.Equal(t, []string{"ticket.created"}, h.producer.events)

	out, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "yes, resolved"})
	require.NoError(t, err)
	require.Equal(t, OutcomeTicketResolved, out)

	resolved, err := h.tickets.GetByID(ctx, tkt.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusResolved, resolved.Status)
	ident, _ = h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.False(t, ident.HasOpenTicket)
	require.Contains(t, h.gateway.ops(), "unassign")
	require.Equal(t, []string{"ticket.created", "ticket.resolved"}, h.producer.events)
}

func TestSecondButtonTapRoutesToExistingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "how do i join the session"})
	require.NoError(t, err)

	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	require.Equal(t, OutcomeTranscriptAppend, out)

	require.Len(t, h.tickets.byID, 1)
}

func TestMenuEchoNeverMutates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "broken checkout"})
	require.NoError(t, err)

	before := len(h.gateway.ops())
	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "explore our programs", FromButton: true})
	require.NoError(t, err)
	require.Equal(t, OutcomeMenuEcho, out)
	require.Len(t, h.gateway.ops(), before)
}

func TestFollowupPromptOnceThenReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "cannot log in"})
	require.NoError(t, err)

	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "need more help"})
	require.NoError(t, err)
	require.Equal(t, OutcomeFollowupPrompted, out)

	out, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "need more help"})
	require.NoError(t, err)
	require.Equal(t, OutcomeFollowupRepeat, out)

	out, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "still cannot log in with my email"})
	require.NoError(t, err)
	require.Equal(t, OutcomeReopenedPending, out)

	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	tkt, err := h.tickets.FindActiveByIdentity(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, tkt.Status)
}

func TestEmailCaptureDoesNotSwallowMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "raise a concern"})
	require.NoError(t, err)

	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "contact me at asha@example.com about the refund"})
	require.NoError(t, err)
	require.Equal(t, OutcomeTicketCreated, out)

	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.Equal(t, "asha@example.com", ident.Email)
}

func TestFeedbackCapturedAfterPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.botCtx.text = "Please provide your feedback here"

	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "the session was really insightful"})
	require.NoError(t, err)
	require.Equal(t, OutcomeFeedbackCaptured, out)

	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.Equal(t, []string{"the session was really insightful"}, h.idents.feedbacks[ident.ID])
}

func TestFeedbackContextDoesNotPreemptTicketFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.botCtx.text = "Please provide your feedback here"

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "raise a concern"})
	require.NoError(t, err)
	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "my invoice is wrong"})
	require.NoError(t, err)
	require.Equal(t, OutcomeTicketCreated, out)

	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.Empty(t, h.idents.feedbacks[ident.ID])
}

func TestAgentReplyWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "question about fees"})
	require.NoError(t, err)
	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	tkt, err := h.tickets.FindActiveByIdentity(ctx, ident.ID)
	require.NoError(t, err)

	*h.clockSkew = 23*time.Hour + 59*time.Minute
	updated, err := h.mgr.AgentReply(ctx, tkt.ID, "Priya", "the fee schedule is attached")
	require.NoError(t, err)
	require.Equal(t, ticket.StatusInProgress, updated.Status)
	require.NotNil(t, updated.LastAgentReply)

	*h.clockSkew = 24*time.Hour + time.Minute
	_, err = h.mgr.AgentReply(ctx, tkt.ID, "Priya", "too late")
	require.ErrorIs(t, err, ErrReplyWindowClosed)
}

func TestAgentReplyRejectedOnResolvedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "question"})
	require.NoError(t, err)
	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	tkt, _ := h.tickets.FindActiveByIdentity(ctx, ident.ID)

	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "yes, resolved"})
	require.NoError(t, err)

	_, err = h.mgr.AgentReply(ctx, tkt.ID, "Priya", "hello again")
	require.ErrorIs(t, err, ErrTicketClosed)

	// Resolved is terminal for inbound traffic too.
	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "one more thing"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNoAction, out)
}

func TestAgentReplyGatewayFailureLeavesTranscriptUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "question"})
	require.NoError(t, err)
	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	tkt, _ := h.tickets.FindActiveByIdentity(ctx, ident.ID)
	transcriptBefore := len(h.tickets.messages[tkt.ID])

	h.gateway.failText = true
	_, err = h.mgr.AgentReply(ctx, tkt.ID, "Priya", "reply that fails")
	require.ErrorIs(t, err, ErrGatewaySend)
	require.Len(t, h.tickets.messages[tkt.ID], transcriptBefore)

	still, err := h.tickets.GetByID(ctx, tkt.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, still.Status)
}

func TestGatewayFailureDoesNotBlockResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "i have a query"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "question"})
	require.NoError(t, err)

	h.gateway.failText = true
	out, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "yes, resolved"})
	require.NoError(t, err)
	require.Equal(t, OutcomeTicketResolved, out)
}

func TestOperatorResolveClearsFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "raise a concern"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(ctx, Inbound{Phone: contactPhone, Text: "billing issue"})
	require.NoError(t, err)
	ident, _ := h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	tkt, _ := h.tickets.FindActiveByIdentity(ctx, ident.ID)

	resolved, err := h.mgr.UpdateStatus(ctx, tkt.ID, ticket.StatusResolved, "Priya", "refund issued")
	require.NoError(t, err)
	require.Equal(t, ticket.StatusResolved, resolved.Status)
	require.Equal(t, "Priya", resolved.ResolvedBy)

	ident, _ = h.idents.GetOrCreateByPhone(ctx, contactPhone, "")
	require.False(t, ident.HasOpenTicket)
}
