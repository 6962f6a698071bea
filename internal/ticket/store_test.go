package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func ticketRows(status Status, lastInbound time.Time) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "number", "identity_id", "category", "initial_message", "status",
		"created_at", "updated_at", "resolved_at", "last_inbound_at",
		"last_agent_reply_at", "resolved_by", "resolution_notes",
	}).AddRow(
		"t-1", "IL-2025-0007", "id-1", "concern", "my invoice is wrong", string(status),
		now, now, nil, lastInbound, nil, nil, nil,
	)
}

func TestCreateClaimsSequenceInOneTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM tickets`).
		WithArgs("id-1", StatusResolved).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO ticket_sequences`).
		WithArgs(time.Now().UTC().Year()).
		WillReturnRows(pgxmock.NewRows([]string{"last_number"}).AddRow(7))
	now := time.Now().UTC()
	number := FormatNumber("IL", time.Now().UTC().Year(), 7)
	mock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(pgxmock.AnyArg(), number, "id-1", CategoryConcern, "my invoice is wrong", StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at", "last_inbound_at"}).AddRow(now, now, now))
	mock.ExpectExec(`INSERT INTO ticket_messages`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), DirectionInbound, "my invoice is wrong", "contact").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE identities`).
		WithArgs("id-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	store := NewStoreWithDB(mock, "IL")
	created, err := store.Create(context.Background(), "id-1", CategoryConcern, "my invoice is wrong")
	require.NoError(t, err)
	require.Equal(t, FormatNumber("IL", time.Now().UTC().Year(), 7), created.Number)
	require.Equal(t, StatusPending, created.Status)
	require.Equal(t, "my invoice is wrong", created.InitialMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsSecondActiveTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM tickets`).
		WithArgs("id-1", StatusResolved).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	store := NewStoreWithDB(mock, "IL")
	_, err = store.Create(context.Background(), "id-1", CategoryQuery, "second ticket attempt")
	require.ErrorIs(t, err, ErrActiveTicketExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMapsUniqueViolationToActiveTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Two deliveries race past the pre-check; the second insert trips the
	// one-active-ticket partial index.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM tickets`).
		WithArgs("id-1", StatusResolved).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO ticket_sequences`).
		WithArgs(time.Now().UTC().Year()).
		WillReturnRows(pgxmock.NewRows([]string{"last_number"}).AddRow(8))
	mock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "id-1", CategoryQuery, "racing message", StatusPending).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_tickets_one_active_per_identity"})
	mock.ExpectRollback()

	store := NewStoreWithDB(mock, "IL")
	_, err = store.Create(context.Background(), "id-1", CategoryQuery, "racing message")
	require.ErrorIs(t, err, ErrActiveTicketExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusRejectsLeavingResolved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .+ FROM tickets WHERE id`).
		WithArgs("t-1").
		WillReturnRows(ticketRows(StatusResolved, time.Now().UTC()))

	store := NewStoreWithDB(mock, "IL")
	_, err = store.SetStatus(context.Background(), "t-1", StatusPending)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByIdentityNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .+ FROM tickets`).
		WithArgs("id-1", StatusResolved).
		WillReturnError(pgx.ErrNoRows)

	store := NewStoreWithDB(mock, "IL")
	_, err = store.FindActiveByIdentity(context.Background(), "id-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDeliveryStatusSkipsEmptyID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock, "IL")
	require.NoError(t, store.UpdateDeliveryStatus(context.Background(), "", DeliveryRead))
	require.NoError(t, mock.ExpectationsWereMet())
}
