package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no matching log row exists.
var ErrNotFound = errors.New("audit: record not found")

// Querier is the subset of pgxpool.Pool the store needs. pgxmock
// satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists webhook_logs rows.
type Store struct {
	q Querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{q: pool}
}

func NewStoreWithQuerier(q Querier) *Store {
	return &Store{q: q}
}

// Append inserts one log row and returns its id. The raw payload is
// truncated before storage.
func (s *Store) Append(ctx context.Context, rec Record) (int64, error) {
	if rec.Direction != DirectionInbound && rec.Direction != DirectionOutbound {
		return 0, fmt.Errorf("audit: invalid direction %q", rec.Direction)
	}
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO webhook_logs (event_id, phone, direction, kind, text, raw_payload, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.EventID, rec.Phone, string(rec.Direction), rec.Kind, rec.Text,
		truncatePayload(rec.RawPayload), rec.Outcome).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: append: %w", err)
	}
	return id, nil
}

// SetOutcome tags a previously appended row with its processing outcome.
func (s *Store) SetOutcome(ctx context.Context, id int64, outcome string) error {
	tag, err := s.q.Exec(ctx, `UPDATE webhook_logs SET outcome = $2 WHERE id = $1`, id, outcome)
	if err != nil {
		return fmt.Errorf("audit: set outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastOutboundBotText returns the text of the most recent outbound row for
// the phone inside the lookback horizon. The lifecycle manager uses it to
// pair an inbound message with the prompt the bot last sent, e.g. the
// feedback prompt.
func (s *Store) LastOutboundBotText(ctx context.Context, phone string, horizon time.Duration) (string, error) {
	var text string
	err := s.q.QueryRow(ctx, `
		SELECT text FROM webhook_logs
		WHERE phone = $1 AND direction = 'outbound' AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`, phone, time.Now().UTC().Add(-horizon)).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("audit: last outbound text: %w", err)
	}
	return text, nil
}
