package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, booking_id, buyer_address, facility_address, amount,
			token, network, status,
			funding_tx_hash, release_tx_hash, block_number, confirmations, gas_used,
			dispute_reason, dispute_winner, resolution,
			created_at, funded_at, released_at, disputed_at, resolved_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21, $22
		)`,
		e.ID, e.BookingID, e.BuyerAddress, e.FacilityAddress, e.Amount,
		e.Token, e.Network, string(e.Status),
		nullString(e.FundingTxHash), nullString(e.ReleaseTxHash),
		int64(e.BlockNumber), e.Confirmations, int64(e.GasUsed),
		nullString(e.DisputeReason), nullString(string(e.DisputeWinner)), nullString(e.Resolution),
		e.CreatedAt, nullTime(e.FundedAt), nullTime(e.ReleasedAt),
		nullTime(e.DisputedAt), nullTime(e.ResolvedAt), e.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateBooking
	}
	return err
}

const escrowColumns = `id, booking_id, buyer_address, facility_address, amount,
		       token, network, status,
		       funding_tx_hash, release_tx_hash, block_number, confirmations, gas_used,
		       dispute_reason, dispute_winner, resolution,
		       created_at, funded_at, released_at, disputed_at, resolved_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) GetByBooking(ctx context.Context, bookingID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE booking_id = $1`, bookingID)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

// transition runs a conditional status update. The WHERE clause carries
// the expected status; when zero rows match, the current row is re-read
// to tell a lost race apart from a missing escrow.
func (p *PostgresStore) transition(ctx context.Context, id string, from Status, query string, args ...interface{}) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		current, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &StateError{Current: current.Status, Expected: from}
	}
	return nil
}

func (p *PostgresStore) MarkFunded(ctx context.Context, id string, receipt FundingReceipt) error {
	now := time.Now()
	return p.transition(ctx, id, StatusCreated, `
		UPDATE escrows SET
			status = 'funded',
			funding_tx_hash = $1, block_number = $2, confirmations = $3, gas_used = $4,
			funded_at = $5, updated_at = $5
		WHERE id = $6 AND status = 'created'`,
		receipt.TxHash, int64(receipt.BlockNumber), receipt.Confirmations, int64(receipt.GasUsed),
		now, id,
	)
}

func (p *PostgresStore) MarkReleased(ctx context.Context, id, releaseTxHash string) error {
	now := time.Now()
	return p.transition(ctx, id, StatusFunded, `
		UPDATE escrows SET
			status = 'released', release_tx_hash = $1,
			released_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'funded'`,
		nullString(releaseTxHash), now, id,
	)
}

func (p *PostgresStore) MarkDisputed(ctx context.Context, id, reason string) error {
	now := time.Now()
	return p.transition(ctx, id, StatusFunded, `
		UPDATE escrows SET
			status = 'disputed', dispute_reason = $1,
			disputed_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'funded'`,
		reason, now, id,
	)
}

func (p *PostgresStore) MarkResolved(ctx context.Context, id string, winner Winner, resolution string) error {
	now := time.Now()
	return p.transition(ctx, id, StatusDisputed, `
		UPDATE escrows SET
			status = 'resolved', dispute_winner = $1, resolution = $2,
			resolved_at = $3, updated_at = $3
		WHERE id = $4 AND status = 'disputed'`,
		string(winner), nullString(resolution), now, id,
	)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		status        string
		fundingTxHash sql.NullString
		releaseTxHash sql.NullString
		blockNumber   int64
		gasUsed       int64
		disputeReason sql.NullString
		disputeWinner sql.NullString
		resolution    sql.NullString
		fundedAt      sql.NullTime
		releasedAt    sql.NullTime
		disputedAt    sql.NullTime
		resolvedAt    sql.NullTime
	)

	err := s.Scan(
		&e.ID, &e.BookingID, &e.BuyerAddress, &e.FacilityAddress, &e.Amount,
		&e.Token, &e.Network, &status,
		&fundingTxHash, &releaseTxHash, &blockNumber, &e.Confirmations, &gasUsed,
		&disputeReason, &disputeWinner, &resolution,
		&e.CreatedAt, &fundedAt, &releasedAt, &disputedAt, &resolvedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.FundingTxHash = fundingTxHash.String
	e.ReleaseTxHash = releaseTxHash.String
	e.BlockNumber = uint64(blockNumber)
	e.GasUsed = uint64(gasUsed)
	e.DisputeReason = disputeReason.String
	e.DisputeWinner = Winner(disputeWinner.String)
	e.Resolution = resolution.String
	if fundedAt.Valid {
		e.FundedAt = &fundedAt.Time
	}
	if releasedAt.Valid {
		e.ReleasedAt = &releasedAt.Time
	}
	if disputedAt.Valid {
		e.DisputedAt = &disputedAt.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}

	return e, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
