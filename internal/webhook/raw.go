// Package webhook is the HTTP ingress for WATI deliveries. It normalizes
// the provider's loosely shaped payload at the boundary, applies the dedup
// check, writes the audit record and hands the typed event to the
// lifecycle manager. The provider is always ACKed with HTTP 200.
package webhook

import (
	"encoding/json"
	"strings"

	"github.com/ironlady-tech/wati-support/internal/identity"
)

// flexibleBool accepts the provider's several spellings of a boolean:
// true/false, "true"/"false", "1"/"0", 1/0.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*b = true
	default:
		*b = false
	}
	return nil
}

// RawEvent mirrors a WATI webhook body. WATI has shipped the same concept
// under several field names across API versions; every spelling is kept
// here and collapsed in Normalize.
type RawEvent struct {
	ID                string `json:"id"`
	MessageID         string `json:"messageId"`
	WhatsappMessageID string `json:"whatsappMessageId"`

	WaID           string `json:"waId"`
	WaNumber       string `json:"waNumber"`
	WhatsappNumber string `json:"whatsappNumber"`
	Phone          string `json:"phone"`

	SenderName string `json:"senderName"`
	Name       string `json:"name"`

	EventType string `json:"eventType"`
	Type      string `json:"type"`
	Status    string `json:"status"`

	Text        string `json:"text"`
	MessageText string `json:"messageText"`
	Body        string `json:"body"`

	Owner    flexibleBool `json:"owner"`
	IsOwner  flexibleBool `json:"isOwner"`
	FromMe   flexibleBool `json:"fromMe"`
	Outgoing flexibleBool `json:"isOutgoing"`

	Button struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	ButtonReply struct {
		Text string `json:"text"`
	} `json:"buttonReply"`
	Interactive struct {
		ButtonReply struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	ListReply struct {
		Title string `json:"title"`
	} `json:"listReply"`
}

// Event is the strongly typed internal record all business logic runs on.
type Event struct {
	ID         string
	Phone      string
	Name       string
	Text       string
	FromButton bool
	Outgoing   bool
	EventType  string
	// Status carries delivery receipts (sent/delivered/read/failed) for
	// message-status events.
	Status string
}

// ParseRawEvent decodes one webhook body.
func ParseRawEvent(data []byte) (*RawEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// Normalize collapses the alternate spellings into one Event.
func (r *RawEvent) Normalize() Event {
	// WATI prefixes pushname-sourced sender names with "~"; strip it.
	ev := Event{
		ID:        firstNonEmpty(r.WhatsappMessageID, r.MessageID, r.ID),
		Phone:     identity.NormalizePhone(firstNonEmpty(r.WaID, r.WaNumber, r.WhatsappNumber, r.Phone)),
		Name:      strings.TrimSpace(strings.ReplaceAll(firstNonEmpty(r.SenderName, r.Name), "~", "")),
		EventType: strings.ToLower(firstNonEmpty(r.EventType, r.Type)),
		Status:    strings.ToLower(r.Status),
	}
	ev.Outgoing = bool(r.Owner) || bool(r.IsOwner) || bool(r.FromMe) || bool(r.Outgoing) ||
		ev.EventType == "sessionmessagesent"

	buttonText := firstNonEmpty(
		r.Button.Text,
		r.ButtonReply.Text,
		r.Interactive.ButtonReply.Title,
		r.Interactive.ListReply.Title,
		r.ListReply.Title,
	)
	if buttonText != "" {
		ev.Text = strings.TrimSpace(buttonText)
		ev.FromButton = true
		return ev
	}
	ev.Text = strings.TrimSpace(firstNonEmpty(r.Text, r.MessageText, r.Body))
	return ev
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
