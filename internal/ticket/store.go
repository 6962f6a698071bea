package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists tickets, transcripts and the yearly sequence counter.
type Store struct {
	db     DB
	prefix string
	now    func() time.Time
}

// NewStore initializes a store backed by pgxpool.
func NewStore(pool *pgxpool.Pool, prefix string) *Store {
	if pool == nil {
		panic("ticket: pgx pool required")
	}
	return newStore(pool, prefix)
}

// NewStoreWithDB wires an arbitrary DB (a mock in tests).
func NewStoreWithDB(db DB, prefix string) *Store {
	if db == nil {
		panic("ticket: db required")
	}
	return newStore(db, prefix)
}

func newStore(db DB, prefix string) *Store {
	if prefix == "" {
		prefix = "IL"
	}
	return &Store{db: db, prefix: prefix, now: time.Now}
}

const ticketColumns = `id, number, identity_id, category, initial_message, status,
	created_at, updated_at, resolved_at, last_inbound_at, last_agent_reply_at,
	resolved_by, resolution_notes`

// Create opens a new ticket inside one transaction: it claims the next
// sequence number for the calendar year, inserts the ticket row and the
// first inbound transcript entry, and flips the identity's flags. It fails
// with ErrActiveTicketExists when a non-terminal ticket already exists for
// the identity.
func (s *Store) Create(ctx context.Context, identityID string, category Category, initialMessage string) (*Ticket, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM tickets WHERE identity_id = $1 AND status <> $2 LIMIT 1`,
		identityID, StatusResolved).Scan(&existing)
	if err == nil {
		return nil, ErrActiveTicketExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticket: check active: %w", err)
	}

	year := s.now().UTC().Year()
	var seq int
	err = tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (year, last_number)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_number = ticket_sequences.last_number + 1
		RETURNING last_number
	`, year).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("ticket: next sequence: %w", err)
	}

	t := &Ticket{
		ID:             uuid.New().String(),
		Number:         FormatNumber(s.prefix, year, seq),
		IdentityID:     identityID,
		Category:       category,
		InitialMessage: initialMessage,
		Status:         StatusPending,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO tickets (id, number, identity_id, category, initial_message, status, last_inbound_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at, updated_at, last_inbound_at
	`, t.ID, t.Number, t.IdentityID, t.Category, t.InitialMessage, t.Status).
		Scan(&t.CreatedAt, &t.UpdatedAt, &t.LastInboundAt)
	if err != nil {
		// Two deliveries can race past the SELECT above; the partial
		// unique index is the backstop, so surface it as the same
		// sentinel the pre-check uses.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_tickets_one_active_per_identity" {
			return nil, ErrActiveTicketExists
		}
		return nil, fmt.Errorf("ticket: insert: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_messages (id, ticket_id, direction, body, author)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), t.ID, DirectionInbound, initialMessage, "contact")
	if err != nil {
		return nil, fmt.Errorf("ticket: insert first message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE identities SET awaiting_category = 'none', has_open_ticket = TRUE, last_interaction = now()
		WHERE id = $1
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("ticket: flip identity flags: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ticket: commit create: %w", err)
	}
	return t, nil
}

// FindActiveByIdentity returns the single non-terminal ticket for the
// identity, or ErrNotFound.
func (s *Store) FindActiveByIdentity(ctx context.Context, identityID string) (*Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
		WHERE identity_id = $1 AND status <> $2
		ORDER BY created_at DESC LIMIT 1`
	row := s.db.QueryRow(ctx, query, identityID, StatusResolved)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket: find active: %w", err)
	}
	return t, nil
}

// GetByID fetches one ticket.
func (s *Store) GetByID(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket: select by id: %w", err)
	}
	return t, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// List returns tickets newest-first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Ticket, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, filter.Limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket: list: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket: scan list row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket: list rows: %w", err)
	}
	return out, nil
}

// AppendMessage adds a transcript entry. Inbound entries bump the ticket's
// last_inbound_at, which anchors the reply window.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO ticket_messages (id, ticket_id, direction, body, media_url, provider_message_id, delivery_status, author)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
		RETURNING created_at
	`, msg.ID, msg.TicketID, msg.Direction, msg.Body, msg.MediaURL, msg.ProviderMessageID, string(msg.DeliveryStatus), msg.Author).
		Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("ticket: append message: %w", err)
	}
	if msg.Direction == DirectionInbound {
		if _, err := s.db.Exec(ctx,
			`UPDATE tickets SET last_inbound_at = now(), updated_at = now() WHERE id = $1`,
			msg.TicketID); err != nil {
			return fmt.Errorf("ticket: bump last inbound: %w", err)
		}
	}
	return nil
}

// Transcript returns all messages for a ticket, oldest first.
func (s *Store) Transcript(ctx context.Context, ticketID string) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ticket_id, direction, body, media_url, provider_message_id, delivery_status, author, created_at
		FROM ticket_messages WHERE ticket_id = $1 ORDER BY created_at ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket: transcript: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m        Message
			media    *string
			provider *string
			delivery *string
			author   *string
		)
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Direction, &m.Body, &media, &provider, &delivery, &author, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("ticket: scan message: %w", err)
		}
		if media != nil {
			m.MediaURL = *media
		}
		if provider != nil {
			m.ProviderMessageID = *provider
		}
		if delivery != nil {
			m.DeliveryStatus = DeliveryStatus(*delivery)
		}
		if author != nil {
			m.Author = *author
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket: transcript rows: %w", err)
	}
	return out, nil
}

// UpdateDeliveryStatus correlates a provider receipt with its transcript
// entry.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status DeliveryStatus) error {
	if providerMessageID == "" {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE ticket_messages SET delivery_status = $2 WHERE provider_message_id = $1`,
		providerMessageID, status)
	if err != nil {
		return fmt.Errorf("ticket: update delivery status: %w", err)
	}
	return nil
}

// SetStatus moves the ticket to next, enforcing the transition table.
func (s *Store) SetStatus(ctx context.Context, id string, next Status) (*Ticket, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`,
		id, next)
	if err != nil {
		return nil, fmt.Errorf("ticket: set status: %w", err)
	}
	t.Status = next
	return t, nil
}

// MarkAgentReplied records a counsellor reply: pending tickets move to
// in_progress, the reply timestamp is bumped.
func (s *Store) MarkAgentReplied(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tickets SET
			status = CASE WHEN status = $2 THEN $3 ELSE status END,
			last_agent_reply_at = now(),
			updated_at = now()
		WHERE id = $1
	`, id, StatusPending, StatusInProgress)
	if err != nil {
		return fmt.Errorf("ticket: mark agent replied: %w", err)
	}
	return nil
}

// Resolve closes the ticket. Resolved is terminal.
func (s *Store) Resolve(ctx context.Context, id, resolvedBy, notes string) (*Ticket, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransition(StatusResolved) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusResolved)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE tickets SET status = $2, resolved_at = now(), updated_at = now(),
			resolved_by = NULLIF($3, ''), resolution_notes = NULLIF($4, '')
		WHERE id = $1
	`, id, StatusResolved, resolvedBy, notes)
	if err != nil {
		return nil, fmt.Errorf("ticket: resolve: %w", err)
	}
	t.Status = StatusResolved
	t.ResolvedBy = resolvedBy
	t.ResolutionNotes = notes
	return t, nil
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var (
		t          Ticket
		resolvedBy *string
		notes      *string
	)
	if err := row.Scan(
		&t.ID,
		&t.Number,
		&t.IdentityID,
		&t.Category,
		&t.InitialMessage,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.ResolvedAt,
		&t.LastInboundAt,
		&t.LastAgentReply,
		&resolvedBy,
		&notes,
	); err != nil {
		return nil, err
	}
	if resolvedBy != nil {
		t.ResolvedBy = *resolvedBy
	}
	if notes != nil {
		t.ResolutionNotes = *notes
	}
	return &t, nil
}
