// Package ticket persists support cases and their transcripts.
package ticket

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a ticket. Resolved is terminal.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusAwaitingFollowup Status = "awaiting_followup"
	StatusResolved         Status = "resolved"
)

// Category is the kind of support case the contact confirmed.
type Category string

const (
	CategoryQuery   Category = "query"
	CategoryConcern Category = "concern"
)

// Direction tags transcript entries.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks provider receipts for outbound entries.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

var (
	// ErrNotFound is returned when no ticket matches.
	ErrNotFound = errors.New("ticket not found")
	// ErrActiveTicketExists guards the one-active-ticket invariant.
	ErrActiveTicketExists = errors.New("identity already has an active ticket")
	// ErrInvalidTransition is returned for a status move the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid ticket status transition")
)

// Ticket is one support case.
type Ticket struct {
	ID              string     `json:"id"`
	Number          string     `json:"number"`
	IdentityID      string     `json:"identity_id"`
	Category        Category   `json:"category"`
	InitialMessage  string     `json:"initial_message"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	LastInboundAt   time.Time  `json:"last_inbound_at"`
	LastAgentReply  *time.Time `json:"last_agent_reply_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// Message is one transcript entry. Append-only; only delivery status and
// its timestamp ever change afterwards.
type Message struct {
	ID                string         `json:"id"`
	TicketID          string         `json:"ticket_id"`
	Direction         Direction      `json:"direction"`
	Body              string         `json:"body"`
	MediaURL          string         `json:"media_url,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status,omitempty"`
	Author            string         `json:"author,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Active reports whether the status is non-terminal.
func (s Status) Active() bool {
	return s != StatusResolved && s != ""
}

var transitions = map[Status][]Status{
	StatusPending:          {StatusInProgress, StatusAwaitingFollowup, StatusResolved},
	StatusInProgress:       {StatusPending, StatusAwaitingFollowup, StatusResolved},
	StatusAwaitingFollowup: {StatusPending, StatusInProgress, StatusResolved},
	StatusResolved:         {},
}

// CanTransition reports whether moving from s to next is allowed. Resolved
// is terminal: nothing leaves it.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FormatNumber renders the human-readable sequential ticket number.
func FormatNumber(prefix string, year, n int) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, n)
}
