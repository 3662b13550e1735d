// Package escrow coordinates crypto settlement for bookings.
//
// Each booking gets at most one escrow. The escrow walks a fixed path:
// created -> funded -> released, with a detour through disputed ->
// resolved when the parties disagree. Every transition is a conditional
// status write, so concurrent actions on the same escrow resolve to a
// single winner without application-level locks.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEscrowNotFound   = errors.New("escrow not found")
	ErrDuplicateBooking = errors.New("escrow already exists for booking")
	ErrTxNotVerified    = errors.New("transaction could not be verified on chain")
)

// StateError reports an action attempted while the escrow was in the
// wrong status.
type StateError struct {
	Current  Status
	Expected Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("escrow is %s, expected %s", e.Current, e.Expected)
}

// ConfirmationError reports a verified transaction that has not yet been
// buried deep enough to accept.
type ConfirmationError struct {
	Confirmations int64
	Required      int64
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("transaction has %d confirmations, need %d", e.Confirmations, e.Required)
}

// Status is the closed set of escrow states.
type Status string

const (
	StatusCreated  Status = "created"
	StatusFunded   Status = "funded"
	StatusReleased Status = "released"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
)

// IsTerminal returns true if the escrow is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusResolved
}

// Winner identifies the prevailing party of a dispute resolution.
type Winner string

const (
	WinnerBuyer    Winner = "buyer"
	WinnerFacility Winner = "facility"
)

// Valid reports whether w is a known winner value.
func (w Winner) Valid() bool {
	return w == WinnerBuyer || w == WinnerFacility
}

// Escrow holds the funds for exactly one booking.
type Escrow struct {
	ID              string `json:"id"`
	BookingID       string `json:"bookingId"`
	BuyerAddress    string `json:"buyerAddress"`
	FacilityAddress string `json:"facilityAddress"`
	Amount          int64  `json:"amount"` // cents
	Token           string `json:"token"`
	Network         string `json:"network"`
	Status          Status `json:"status"`

	FundingTxHash string `json:"fundingTxHash,omitempty"`
	ReleaseTxHash string `json:"releaseTxHash,omitempty"`
	BlockNumber   uint64 `json:"blockNumber,omitempty"`
	Confirmations int64  `json:"confirmations,omitempty"`
	GasUsed       uint64 `json:"gasUsed,omitempty"`

	DisputeReason string `json:"disputeReason,omitempty"`
	DisputeWinner Winner `json:"disputeWinner,omitempty"`
	Resolution    string `json:"resolution,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	FundedAt   *time.Time `json:"fundedAt,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
	DisputedAt *time.Time `json:"disputedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// FundingReceipt carries the on-chain facts recorded when an escrow is
// confirmed funded.
type FundingReceipt struct {
	TxHash        string
	BlockNumber   uint64
	Confirmations int64
	GasUsed       uint64
}

// Store persists escrow data. All Mark* methods are conditional on the
// escrow's current status and return *StateError when another transition
// got there first.
type Store interface {
	// Create persists a new escrow; it returns ErrDuplicateBooking if the
	// booking already has one.
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByBooking(ctx context.Context, bookingID string) (*Escrow, error)

	MarkFunded(ctx context.Context, id string, receipt FundingReceipt) error
	MarkReleased(ctx context.Context, id, releaseTxHash string) error
	MarkDisputed(ctx context.Context, id, reason string) error
	MarkResolved(ctx context.Context, id string, winner Winner, resolution string) error
}
