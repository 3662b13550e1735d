// Package booking owns the booking record and its lifecycle.
//
// A booking is created in "reserved" with an immutable fee snapshot and is
// only ever mutated through guarded transitions: escrow events move it
// forward, buyers and admins may cancel, and dispute resolution
// terminalizes it. Bookings are never deleted.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bzeklaf/desynth-sub000/internal/metrics"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrInvalidMethod   = errors.New("unknown payment method")
	ErrInvalidAmount   = errors.New("invalid base amount")
)

// StateError reports a transition attempted from a disallowed status.
type StateError struct {
	Current  Status
	Expected Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("booking is %s, expected %s", e.Current, e.Expected)
}

// Status is the closed set of booking states.
type Status string

const (
	StatusReserved   Status = "reserved"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
)

// IsTerminal returns true if the booking is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentStatus tracks the payment leg of a booking.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Event names the triggers that move a booking between states.
type Event string

const (
	EventEscrowCreated      Event = "escrow_created"
	EventEscrowFunded       Event = "escrow_funded"
	EventEscrowReleased     Event = "escrow_released"
	EventCancel             Event = "cancel"
	EventDispute            Event = "dispute"
	EventResolveForFacility Event = "resolve_for_facility"
	EventResolveForBuyer    Event = "resolve_for_buyer"
)

// transitions is the full state machine: from-state x event -> to-state.
// Anything not listed is rejected. Disputed bookings leave only through a
// resolution event; cancel is not available once a dispute is open.
var transitions = map[Status]map[Event]Status{
	StatusReserved: {
		EventEscrowCreated: StatusProcessing,
		EventCancel:        StatusCancelled,
	},
	StatusProcessing: {
		EventEscrowFunded: StatusConfirmed,
		EventCancel:       StatusCancelled,
	},
	StatusConfirmed: {
		EventEscrowReleased: StatusCompleted,
		EventDispute:        StatusDisputed,
		EventCancel:         StatusCancelled,
	},
	StatusDisputed: {
		EventResolveForFacility: StatusCompleted,
		EventResolveForBuyer:    StatusCancelled,
	},
}

// Next returns the state reached by applying event in from, if allowed.
func Next(from Status, event Event) (Status, bool) {
	to, ok := transitions[from][event]
	return to, ok
}

// Booking represents a buyer's claim on a production slot.
type Booking struct {
	ID            string                `json:"id"`
	BuyerID       string                `json:"buyerId"`
	SlotID        string                `json:"slotId"`
	BaseAmount    int64                 `json:"baseAmount"`  // cents
	TotalAmount   int64                 `json:"totalAmount"` // cents, from the fee snapshot
	Status        Status                `json:"status"`
	PaymentStatus PaymentStatus         `json:"paymentStatus"`
	PaymentMethod pricing.PaymentMethod `json:"paymentMethod"`

	// FeeSnapshot is copied from the pricing engine at creation and never
	// recomputed; later rate edits must not change what was charged.
	FeeSnapshot *pricing.Breakdown `json:"feeSnapshot"`

	Vertical             string `json:"vertical"`
	FacilityType         string `json:"facilityType"`
	IsPriority           bool   `json:"isPriority"`
	RequiresInsurance    bool   `json:"requiresInsurance"`
	RequiresTokenization bool   `json:"requiresTokenization"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists booking data.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	// UpdateStatus conditionally moves a booking from one status to
	// another. The write is keyed on the current status so two racing
	// transitions can never both succeed. An empty paymentStatus leaves
	// the payment leg unchanged.
	UpdateStatus(ctx context.Context, id string, from, to Status, paymentStatus PaymentStatus) error
}

// FeeCalculator computes the fee snapshot at booking creation.
// Satisfied by *pricing.Engine.
type FeeCalculator interface {
	Calculate(baseCents int64, ctx pricing.Context) (*pricing.Breakdown, error)
}

// Notifier delivers urgent notices to facility owners. Delivery is
// fire-and-forget; settlement correctness never depends on it.
type Notifier interface {
	BookingCancelled(ctx context.Context, b *Booking)
}

// CreateRequest contains the parameters for creating a booking.
type CreateRequest struct {
	BuyerID              string                `json:"buyerId" binding:"required"`
	SlotID               string                `json:"slotId" binding:"required"`
	BaseAmount           int64                 `json:"baseAmount"`
	Vertical             string                `json:"vertical"`
	FacilityType         string                `json:"facilityType"`
	TransactionSize      string                `json:"transactionSize"`
	PaymentMethod        pricing.PaymentMethod `json:"paymentMethod"`
	IsPriority           bool                  `json:"isPriority"`
	RequiresInsurance    bool                  `json:"requiresInsurance"`
	RequiresTokenization bool                  `json:"requiresTokenization"`
	SettlementToken      string                `json:"settlementToken"`
}

// Manager implements booking lifecycle logic.
type Manager struct {
	store    Store
	fees     FeeCalculator
	notifier Notifier
	logger   *slog.Logger
}

// NewManager creates a booking manager.
func NewManager(store Store, fees FeeCalculator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, fees: fees, logger: logger}
}

// WithNotifier adds a facility notifier for cancellation notices.
func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notifier = n
	return m
}

// Create computes the fee breakdown, snapshots it, and stores the booking
// in "reserved".
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	if req.BaseAmount < 0 {
		return nil, ErrInvalidAmount
	}
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidMethod
	}

	breakdown, err := m.fees.Calculate(req.BaseAmount, pricing.Context{
		Vertical:             req.Vertical,
		FacilityType:         req.FacilityType,
		TransactionSize:      req.TransactionSize,
		IsPriority:           req.IsPriority,
		PaymentMethod:        req.PaymentMethod,
		RequiresInsurance:    req.RequiresInsurance,
		RequiresTokenization: req.RequiresTokenization,
		SettlementToken:      req.SettlementToken,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	b := &Booking{
		ID:                   uuid.NewString(),
		BuyerID:              req.BuyerID,
		SlotID:               req.SlotID,
		BaseAmount:           req.BaseAmount,
		TotalAmount:          breakdown.TotalAmount,
		Status:               StatusReserved,
		PaymentStatus:        PaymentPending,
		PaymentMethod:        req.PaymentMethod,
		FeeSnapshot:          breakdown,
		Vertical:             req.Vertical,
		FacilityType:         req.FacilityType,
		IsPriority:           req.IsPriority,
		RequiresInsurance:    req.RequiresInsurance,
		RequiresTokenization: req.RequiresTokenization,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := m.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusReserved)).Inc()
	return b, nil
}

// Get returns a booking by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Booking, error) {
	return m.store.Get(ctx, id)
}

// Apply moves a booking through the transition table for the given event.
func (m *Manager) Apply(ctx context.Context, id string, event Event) (*Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	to, ok := Next(b.Status, event)
	if !ok {
		return nil, &StateError{Current: b.Status, Expected: expectedFor(event)}
	}

	if err := m.store.UpdateStatus(ctx, id, b.Status, to, paymentStatusFor(event, b.PaymentStatus)); err != nil {
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues(string(to)).Inc()

	updated, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if to == StatusCancelled && m.notifier != nil {
		// Urgent facility notice; failures are the notifier's problem.
		m.notifier.BookingCancelled(ctx, updated)
	}

	return updated, nil
}

// Cancel is an explicit buyer/admin cancellation.
func (m *Manager) Cancel(ctx context.Context, id string) (*Booking, error) {
	return m.Apply(ctx, id, EventCancel)
}

// expectedFor names the status an event is normally applied from, for
// error reporting.
func expectedFor(event Event) Status {
	switch event {
	case EventEscrowCreated:
		return StatusReserved
	case EventEscrowFunded:
		return StatusProcessing
	case EventEscrowReleased, EventDispute:
		return StatusConfirmed
	case EventResolveForFacility, EventResolveForBuyer:
		return StatusDisputed
	default:
		return StatusReserved
	}
}

// paymentStatusFor maps lifecycle events onto the payment leg.
func paymentStatusFor(event Event, current PaymentStatus) PaymentStatus {
	switch event {
	case EventEscrowCreated:
		return PaymentProcessing
	case EventEscrowFunded:
		return PaymentPaid
	case EventCancel, EventResolveForBuyer:
		if current == PaymentPaid {
			return PaymentRefunded
		}
		return "" // unchanged
	default:
		return "" // unchanged
	}
}
