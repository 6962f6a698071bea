package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool (or pgx.Tx) the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores identities in the relational database.
type Repository struct {
	db Querier
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithQuerier wires an arbitrary querier (a transaction, or a
// mock in tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	if q == nil {
		panic("identity: querier required")
	}
	return &Repository{db: q}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const identityColumns = `id, phone, name, email, participation, enrolled_programs, awaiting_category, has_open_ticket, first_seen, last_interaction`

// GetOrCreateByPhone fetches the identity for the normalized phone number,
// creating it on first contact. Name and email follow first-value-wins.
func (r *Repository) GetOrCreateByPhone(ctx context.Context, phone, name string) (*Identity, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, errors.New("identity: phone required")
	}

	query := `
		INSERT INTO identities (id, phone, name, participation, awaiting_category)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (phone) DO UPDATE SET
			name = COALESCE(identities.name, NULLIF(EXCLUDED.name, '')),
			last_interaction = now()
		RETURNING ` + identityColumns
	row := r.db.QueryRow(ctx, query, uuid.New(), normalized, name, ParticipationUnknown, AwaitingNone)
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("identity: upsert by phone: %w", err)
	}
	return ident, nil
}

// GetByPhone fetches an existing identity.
func (r *Repository) GetByPhone(ctx context.Context, phone string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE phone = $1`
	row := r.db.QueryRow(ctx, query, NormalizePhone(phone))
	ident, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity: select by phone: %w", err)
	}
	return ident, nil
}

// GetByID fetches an identity by primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	ident, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity: select by id: %w", err)
	}
	return ident, nil
}

// TouchInteraction bumps last_interaction.
func (r *Repository) TouchInteraction(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE identities SET last_interaction = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("identity: touch interaction: %w", err)
	}
	return nil
}

// SetEmailIfEmpty captures email on first sight only.
func (r *Repository) SetEmailIfEmpty(ctx context.Context, id, email string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE identities SET email = $2, last_interaction = now() WHERE id = $1 AND email IS NULL`,
		id, email)
	if err != nil {
		return fmt.Errorf("identity: set email: %w", err)
	}
	return nil
}

// SetAwaitingCategory records which support button the contact pressed.
func (r *Repository) SetAwaitingCategory(ctx context.Context, id string, cat AwaitingCategory) error {
	_, err := r.db.Exec(ctx,
		`UPDATE identities SET awaiting_category = $2, last_interaction = now() WHERE id = $1`,
		id, cat)
	if err != nil {
		return fmt.Errorf("identity: set awaiting category: %w", err)
	}
	return nil
}

// SetHasOpenTicket flips the open-ticket flag.
func (r *Repository) SetHasOpenTicket(ctx context.Context, id string, open bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE identities SET has_open_ticket = $2, last_interaction = now() WHERE id = $1`,
		id, open)
	if err != nil {
		return fmt.Errorf("identity: set open ticket flag: %w", err)
	}
	return nil
}

// SetParticipation updates the participation label.
func (r *Repository) SetParticipation(ctx context.Context, id string, p Participation) error {
	_, err := r.db.Exec(ctx, `UPDATE identities SET participation = $2 WHERE id = $1`, id, p)
	if err != nil {
		return fmt.Errorf("identity: set participation: %w", err)
	}
	return nil
}

// AddEnrolledProgram appends program to the enrolled set (deduplicated).
func (r *Repository) AddEnrolledProgram(ctx context.Context, id, program string) error {
	ident, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	joined := AppendProgram(ident.EnrolledPrograms, program)
	if joined == ident.EnrolledPrograms {
		return nil
	}
	_, err = r.db.Exec(ctx, `UPDATE identities SET enrolled_programs = $2 WHERE id = $1`, id, joined)
	if err != nil {
		return fmt.Errorf("identity: add enrolled program: %w", err)
	}
	return nil
}

// RecordCourseInterest upserts a course-interest click.
func (r *Repository) RecordCourseInterest(ctx context.Context, id, course string) error {
	query := `
		INSERT INTO course_interests (identity_id, course, click_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (identity_id, course) DO UPDATE SET
			click_count = course_interests.click_count + 1,
			last_clicked = now()
	`
	if _, err := r.db.Exec(ctx, query, id, course); err != nil {
		return fmt.Errorf("identity: record course interest: %w", err)
	}
	return nil
}

// RecordFeedback stores one feedback text. A duplicate delivery inside the
// suppression window (the contact typing while the prompt is still fresh)
// is dropped: at most one feedback row per identity per five minutes.
func (r *Repository) RecordFeedback(ctx context.Context, id, body string) error {
	query := `
		INSERT INTO feedbacks (id, identity_id, body)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM feedbacks
			WHERE identity_id = $2 AND created_at >= now() - interval '5 minutes'
		)
	`
	if _, err := r.db.Exec(ctx, query, uuid.New(), id, body); err != nil {
		return fmt.Errorf("identity: record feedback: %w", err)
	}
	return nil
}

func scanIdentity(row pgx.Row) (*Identity, error) {
	var (
		ident    Identity
		name     *string
		email    *string
		programs *string
	)
	if err := row.Scan(
		&ident.ID,
		&ident.Phone,
		&name,
		&email,
		&ident.Participation,
		&programs,
		&ident.AwaitingCategory,
		&ident.HasOpenTicket,
		&ident.FirstSeen,
		&ident.LastInteraction,
	); err != nil {
		return nil, err
	}
	if name != nil {
		ident.Name = *name
	}
	if email != nil {
		ident.Email = *email
	}
	if programs != nil {
		ident.EnrolledPrograms = *programs
	}
	return &ident, nil
}
