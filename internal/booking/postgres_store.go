package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

// PostgresStore persists booking data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, b *Booking) error {
	snapshotJSON, err := json.Marshal(b.FeeSnapshot)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, buyer_id, slot_id, base_amount, total_amount,
			status, payment_status, payment_method, fee_snapshot,
			vertical, facility_type, is_priority, requires_insurance, requires_tokenization,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16
		)`,
		b.ID, b.BuyerID, b.SlotID, b.BaseAmount, b.TotalAmount,
		string(b.Status), string(b.PaymentStatus), string(b.PaymentMethod), snapshotJSON,
		b.Vertical, b.FacilityType, b.IsPriority, b.RequiresInsurance, b.RequiresTokenization,
		b.CreatedAt, b.UpdatedAt,
	)
	return err
}

const bookingColumns = `id, buyer_id, slot_id, base_amount, total_amount,
		       status, payment_status, payment_method, fee_snapshot,
		       vertical, facility_type, is_priority, requires_insurance, requires_tokenization,
		       created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// UpdateStatus conditionally advances a booking. The WHERE clause carries
// the expected status, so concurrent transitions on the same booking
// resolve at the database: exactly one matches, the rest see zero rows.
func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status, paymentStatus PaymentStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = $1,
			payment_status = COALESCE(NULLIF($2, ''), payment_status),
			updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(to), string(paymentStatus), time.Now(), id, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing booking from a lost race.
		current, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &StateError{Current: current.Status, Expected: from}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s scanner) (*Booking, error) {
	b := &Booking{}
	var (
		status        string
		paymentStatus string
		paymentMethod string
		snapshotJSON  []byte
	)

	err := s.Scan(
		&b.ID, &b.BuyerID, &b.SlotID, &b.BaseAmount, &b.TotalAmount,
		&status, &paymentStatus, &paymentMethod, &snapshotJSON,
		&b.Vertical, &b.FacilityType, &b.IsPriority, &b.RequiresInsurance, &b.RequiresTokenization,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(paymentStatus)
	b.PaymentMethod = pricing.PaymentMethod(paymentMethod)
	if len(snapshotJSON) > 0 {
		var snapshot pricing.Breakdown
		if err := json.Unmarshal(snapshotJSON, &snapshot); err != nil {
			return nil, err
		}
		b.FeeSnapshot = &snapshot
	}

	return b, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
