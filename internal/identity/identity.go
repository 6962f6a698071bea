// Package identity persists the phone-keyed record for each conversation
// participant.
package identity

import (
	"errors"
	"strings"
	"time"
)

// Participation labels how far the contact has come on the platform.
type Participation string

const (
	ParticipationUnknown  Participation = "unknown"
	ParticipationNew      Participation = "new_to_platform"
	ParticipationEnrolled Participation = "enrolled_participant"
)

// AwaitingCategory marks that the contact pressed a support button and the
// next free-form message opens a ticket of that category.
type AwaitingCategory string

const (
	AwaitingNone    AwaitingCategory = "none"
	AwaitingQuery   AwaitingCategory = "query"
	AwaitingConcern AwaitingCategory = "concern"
)

// ErrNotFound is returned when no identity matches.
var ErrNotFound = errors.New("identity not found")

// Identity is one conversation participant, keyed by normalized phone.
type Identity struct {
	ID               string           `json:"id"`
	Phone            string           `json:"phone"`
	Name             string           `json:"name,omitempty"`
	Email            string           `json:"email,omitempty"`
	Participation    Participation    `json:"participation"`
	EnrolledPrograms string           `json:"enrolled_programs,omitempty"`
	AwaitingCategory AwaitingCategory `json:"awaiting_category"`
	HasOpenTicket    bool             `json:"has_open_ticket"`
	FirstSeen        time.Time        `json:"first_seen"`
	LastInteraction  time.Time        `json:"last_interaction"`
}

// NormalizePhone strips the plus sign and whitespace, leaving digits only.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AppendProgram adds program to the comma-joined set, preserving order and
// skipping duplicates.
func AppendProgram(existing, program string) string {
	if program == "" {
		return existing
	}
	if existing == "" {
		return program
	}
	for _, p := range strings.Split(existing, ",") {
		if p == program {
			return existing
		}
	}
	return existing + "," + program
}
