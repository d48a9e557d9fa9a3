package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// Postgres is the durable Store backing the pipeline. All state transitions
// are single statements guarded by the expected current state, so a lost race
// surfaces as payout.ErrInvalidTransition instead of a silent overwrite.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS payouts (
	id           BIGSERIAL PRIMARY KEY,
	reference    UUID NOT NULL UNIQUE,
	destination  TEXT NOT NULL,
	amount_value NUMERIC(30,10) NOT NULL,
	currency     TEXT NOT NULL DEFAULT '',
	issuer       TEXT NOT NULL DEFAULT '',
	memo         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT 'pending',
	sequence     BIGINT,
	artifact     BYTEA,
	error_kind   TEXT NOT NULL DEFAULT '',
	fatal        BOOLEAN NOT NULL DEFAULT FALSE,
	submitted_at TIMESTAMPTZ,
	confirmed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payouts_state_id ON payouts (state, id);
`

// EnsureSchema creates the payouts table and listing index if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const payoutColumns = `id, reference, destination, amount_value, currency, issuer, memo,
	state, sequence, artifact, error_kind, fatal, submitted_at, confirmed_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*payout.Payment, error) {
	var (
		p        payout.Payment
		value    decimal.Decimal
		sequence sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Reference, &p.Destination, &value, &p.Amount.Currency,
		&p.Amount.Issuer, &p.Memo, &p.State, &sequence, &p.Artifact,
		&p.ErrorKind, &p.Fatal, &p.SubmittedAt, &p.ConfirmedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount.Value = value
	if sequence.Valid {
		seq := uint64(sequence.Int64)
		p.Sequence = &seq
	}
	return &p, nil
}

// InsertPending creates a payout in state pending and returns its id.
func (s *Postgres) InsertPending(ctx context.Context, dest string, amount payout.Amount, memo string) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO payouts (reference, destination, amount_value, currency, issuer, memo, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`,
		uuid.New(), dest, amount.Value, amount.Currency, amount.Issuer, memo, payout.StatePending, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert payout: %w", err)
	}
	return id, nil
}

// Get returns a payout by id.
func (s *Postgres) Get(ctx context.Context, id int64) (*payout.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, payout.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

func (s *Postgres) list(ctx context.Context, query string, args ...any) ([]*payout.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payments []*payout.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListUnsigned returns up to limit pending payouts, lowest id first.
func (s *Postgres) ListUnsigned(ctx context.Context, limit int) ([]*payout.Payment, error) {
	return s.list(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE state = $1 ORDER BY id ASC LIMIT $2`,
		payout.StatePending, limit)
}

// ListSignedUnsubmitted returns signed payouts awaiting submission, id ascending.
func (s *Postgres) ListSignedUnsubmitted(ctx context.Context) ([]*payout.Payment, error) {
	return s.list(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE state = $1 ORDER BY id ASC`,
		payout.StateSigned)
}

// ListSubmittedUnconfirmed returns submitted payouts awaiting confirmation, id ascending.
func (s *Postgres) ListSubmittedUnconfirmed(ctx context.Context) ([]*payout.Payment, error) {
	return s.list(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE state = $1 ORDER BY id ASC`,
		payout.StateSubmitted)
}

// ListByState returns payouts in the given state, newest first, for the
// operator API.
func (s *Postgres) ListByState(ctx context.Context, state payout.State, limit int) ([]*payout.Payment, error) {
	return s.list(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE state = $1 ORDER BY id DESC LIMIT $2`,
		state, limit)
}

func (s *Postgres) transition(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return payout.ErrInvalidTransition
	}
	return nil
}

// MarkSigned transitions pending -> signed, stamping the sequence and artifact.
func (s *Postgres) MarkSigned(ctx context.Context, id int64, sequence uint64, artifact []byte) error {
	return s.transition(ctx,
		`UPDATE payouts SET state = $1, sequence = $2, artifact = $3, updated_at = $4
		 WHERE id = $5 AND state = $6`,
		payout.StateSigned, int64(sequence), artifact, time.Now().UTC(), id, payout.StatePending)
}

// MarkSubmitted transitions signed -> submitted.
func (s *Postgres) MarkSubmitted(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return s.transition(ctx,
		`UPDATE payouts SET state = $1, submitted_at = $2, updated_at = $2
		 WHERE id = $3 AND state = $4`,
		payout.StateSubmitted, now, id, payout.StateSigned)
}

// MarkConfirmed transitions submitted -> confirmed.
func (s *Postgres) MarkConfirmed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return s.transition(ctx,
		`UPDATE payouts SET state = $1, confirmed_at = $2, updated_at = $2
		 WHERE id = $3 AND state = $4`,
		payout.StateConfirmed, now, id, payout.StateSubmitted)
}

// MarkError transitions any non-terminal payout to error. A non-fatal error
// row may be re-marked (e.g. promoted to fatal); confirmed, aborted and
// fatal-error rows are terminal.
func (s *Postgres) MarkError(ctx context.Context, id int64, kind string, fatal bool) error {
	return s.transition(ctx,
		`UPDATE payouts SET state = $1, error_kind = $2, fatal = $3, updated_at = $4
		 WHERE id = $5 AND (state IN ($6, $7, $8) OR (state = $1 AND NOT fatal))`,
		payout.StateError, kind, fatal, time.Now().UTC(), id,
		payout.StatePending, payout.StateSigned, payout.StateSubmitted)
}

// MarkAborted transitions a non-terminal payout to aborted (operator action).
func (s *Postgres) MarkAborted(ctx context.Context, id int64) error {
	err := s.transition(ctx,
		`UPDATE payouts SET state = $1, updated_at = $2
		 WHERE id = $3 AND state IN ($4, $5, $6, $7)`,
		payout.StateAborted, time.Now().UTC(), id,
		payout.StatePending, payout.StateSigned, payout.StateSubmitted, payout.StateError)
	if err == payout.ErrInvalidTransition {
		return payout.ErrNotAbortable
	}
	return err
}

// IsAborted reports whether the payout is in state aborted.
func (s *Postgres) IsAborted(ctx context.Context, id int64) (bool, error) {
	var state payout.State
	err := s.db.QueryRowContext(ctx, `SELECT state FROM payouts WHERE id = $1`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return false, payout.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read payout state: %w", err)
	}
	return state == payout.StateAborted, nil
}

// HighestSequence returns the maximum stamped sequence across rows that hold
// one (signed, submitted or confirmed); ok is false when no such row exists.
func (s *Postgres) HighestSequence(ctx context.Context) (uint64, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM payouts WHERE state IN ($1, $2, $3)`,
		payout.StateSigned, payout.StateSubmitted, payout.StateConfirmed,
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read highest sequence: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

// ClearSignedFrom demotes every signed or submitted-unconfirmed payout with
// id >= from back to pending, clearing sequence and artifact. One statement,
// so the demotion of the whole trailing window is atomic.
func (s *Postgres) ClearSignedFrom(ctx context.Context, from int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET state = $1, sequence = NULL, artifact = NULL, submitted_at = NULL, updated_at = $2
		 WHERE id >= $3 AND state IN ($4, $5)`,
		payout.StatePending, time.Now().UTC(), from, payout.StateSigned, payout.StateSubmitted)
	if err != nil {
		return 0, fmt.Errorf("failed to clear signed payouts: %w", err)
	}
	cleared, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return cleared, nil
}
