// Package botflow consumes the chatbot's own outgoing messages. Those
// echoes carry signals a support system needs anyway: enrollment
// confirmations, course-interest clicks and participation hints, plus the
// prompt markers used to pair a contact's next reply with what the bot
// asked.
package botflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ironlady-tech/wati-support/internal/classifier"
	"github.com/ironlady-tech/wati-support/internal/identity"
)

// IdentityRepo is the slice of the identity repository botflow mutates.
type IdentityRepo interface {
	GetOrCreateByPhone(ctx context.Context, phone, name string) (*identity.Identity, error)
	SetParticipation(ctx context.Context, id string, p identity.Participation) error
	AddEnrolledProgram(ctx context.Context, id, program string) error
	RecordCourseInterest(ctx context.Context, id, course string) error
}

// Processor applies bot-echo classifications to identity state.
type Processor struct {
	identities IdentityRepo
	logger     *slog.Logger
}

func NewProcessor(identities IdentityRepo, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{identities: identities, logger: logger}
}

// HandleBotEcho classifies one outgoing bot message for the given phone and
// updates the identity accordingly. Returns the detected action tag for
// the audit log.
func (p *Processor) HandleBotEcho(ctx context.Context, phone, text string) (classifier.BotAction, error) {
	echo := classifier.ClassifyBotEcho(text)
	if echo.Action == classifier.BotActionPlain || echo.Action == classifier.BotActionPromptMarker {
		// Plain bot chatter and prompt markers carry no identity mutation;
		// markers are still worth the audit tag.
		return echo.Action, nil
	}

	ident, err := p.identities.GetOrCreateByPhone(ctx, phone, "")
	if err != nil {
		return echo.Action, fmt.Errorf("botflow: load identity: %w", err)
	}

	switch echo.Action {
	case classifier.BotActionEnrollment:
		if err := p.identities.SetParticipation(ctx, ident.ID, identity.ParticipationEnrolled); err != nil {
			return echo.Action, fmt.Errorf("botflow: set participation: %w", err)
		}
		if echo.Program != "" {
			if err := p.identities.AddEnrolledProgram(ctx, ident.ID, echo.Program); err != nil {
				return echo.Action, fmt.Errorf("botflow: add program: %w", err)
			}
		}
		p.logger.Info("enrollment confirmed", "identity_id", ident.ID, "program", echo.Program)
	case classifier.BotActionCourseInterest:
		if err := p.identities.RecordCourseInterest(ctx, ident.ID, echo.Program); err != nil {
			return echo.Action, fmt.Errorf("botflow: record interest: %w", err)
		}
	case classifier.BotActionParticipationNew:
		if err := p.identities.SetParticipation(ctx, ident.ID, identity.ParticipationNew); err != nil {
			return echo.Action, fmt.Errorf("botflow: set participation: %w", err)
		}
	case classifier.BotActionParticipationActive:
		if err := p.identities.SetParticipation(ctx, ident.ID, identity.ParticipationEnrolled); err != nil {
			return echo.Action, fmt.Errorf("botflow: set participation: %w", err)
		}
	}
	return echo.Action, nil
}
