package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/chain"
	"github.com/bzeklaf/desynth-sub000/internal/idgen"
	"github.com/bzeklaf/desynth-sub000/internal/logging"
	"github.com/bzeklaf/desynth-sub000/internal/metrics"
	"github.com/bzeklaf/desynth-sub000/internal/traces"
	"github.com/bzeklaf/desynth-sub000/internal/validation"
)

// bookingService is the slice of the booking manager the coordinator
// drives.
type bookingService interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
	Apply(ctx context.Context, id string, event booking.Event) (*booking.Booking, error)
}

// txVerifier checks a settlement transaction on chain.
type txVerifier interface {
	Verify(ctx context.Context, txHash, network string) chain.Result
}

// Coordinator implements escrow settlement logic.
type Coordinator struct {
	store            Store
	auditStore       AuditStore
	bookings         bookingService
	verifier         txVerifier
	minConfirmations int64
	logger           *slog.Logger
}

// NewCoordinator creates an escrow coordinator.
func NewCoordinator(store Store, auditStore AuditStore, bookings bookingService, verifier txVerifier, minConfirmations int64, logger *slog.Logger) *Coordinator {
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:            store,
		auditStore:       auditStore,
		bookings:         bookings,
		verifier:         verifier,
		minConfirmations: minConfirmations,
		logger:           logger,
	}
}

// CreateRequest contains the parameters for opening an escrow.
type CreateRequest struct {
	BookingID       string `json:"bookingId" binding:"required"`
	BuyerAddress    string `json:"buyerAddress" binding:"required"`
	FacilityAddress string `json:"facilityAddress" binding:"required"`
	// Amount defaults to the booking's total when zero.
	Amount  int64  `json:"amount"`
	Token   string `json:"token"`
	Network string `json:"network"`
}

// Create opens an escrow for a reserved booking and moves the booking to
// processing. The booking's conditional transition is the single-winner
// gate; the unique booking constraint on the store is the backstop.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.create",
		traces.BookingID(req.BookingID), traces.Action("create_escrow"))
	defer span.End()

	b, err := c.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount == 0 {
		amount = b.TotalAmount
	}
	if errs := validation.Validate(
		validation.ValidEscrowAmount("amount", amount),
	); len(errs) > 0 {
		return nil, errs
	}

	if existing, err := c.store.GetByBooking(ctx, req.BookingID); err == nil && existing != nil {
		return nil, ErrDuplicateBooking
	}

	if _, err := c.bookings.Apply(ctx, req.BookingID, booking.EventEscrowCreated); err != nil {
		return nil, err
	}

	now := time.Now()
	e := &Escrow{
		ID:              idgen.WithPrefix("esc_"),
		BookingID:       req.BookingID,
		BuyerAddress:    validation.SanitizeAddress(req.BuyerAddress),
		FacilityAddress: validation.SanitizeAddress(req.FacilityAddress),
		Amount:          amount,
		Token:           req.Token,
		Network:         req.Network,
		Status:          StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.store.Create(ctx, e); err != nil {
		// The booking already moved to processing; leave it there and
		// surface the failure so the caller can retry confirmation later.
		logging.L(ctx).Error("escrow create failed after booking transition",
			"booking_id", req.BookingID, "error", err)
		return nil, fmt.Errorf("failed to create escrow: %w", err)
	}

	c.audit(ctx, newAuditEntry(e.ID, "created", b.BuyerID, map[string]interface{}{
		"bookingId": e.BookingID,
		"amount":    e.Amount,
		"token":     e.Token,
	}))
	metrics.EscrowActionsTotal.WithLabelValues("create_escrow", "ok").Inc()

	logging.L(ctx).Info("escrow created",
		"escrow_id", e.ID, "booking_id", e.BookingID, "amount", e.Amount)
	return e, nil
}

// Confirm binds a funding transaction to the booking's open escrow.
//
// The chain lookup happens before any state change and with no locks
// held; a slow or failed RPC call leaves both records untouched. The
// funded transition is conditional on the escrow still being "created",
// so two racing confirmations cannot both succeed.
func (c *Coordinator) Confirm(ctx context.Context, bookingID, txHash string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.confirm",
		traces.BookingID(bookingID), traces.TxHash(txHash), traces.Action("confirm_escrow"))
	defer span.End()

	e, err := c.store.GetByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusCreated {
		return nil, &StateError{Current: e.Status, Expected: StatusCreated}
	}

	result := c.verifier.Verify(ctx, txHash, e.Network)
	if !result.Verified {
		metrics.EscrowActionsTotal.WithLabelValues("confirm_escrow", "unverified").Inc()
		return nil, ErrTxNotVerified
	}
	if result.Confirmations < c.minConfirmations {
		metrics.EscrowActionsTotal.WithLabelValues("confirm_escrow", "pending").Inc()
		return nil, &ConfirmationError{Confirmations: result.Confirmations, Required: c.minConfirmations}
	}

	receipt := FundingReceipt{
		TxHash:        txHash,
		BlockNumber:   result.BlockNumber,
		Confirmations: result.Confirmations,
		GasUsed:       result.GasUsed,
	}
	if err := c.store.MarkFunded(ctx, e.ID, receipt); err != nil {
		return nil, err
	}

	if _, err := c.bookings.Apply(ctx, bookingID, booking.EventEscrowFunded); err != nil {
		// Escrow is funded; the booking transition is replayable from the
		// audit trail if this turns out to be more than a race.
		logging.L(ctx).Error("booking transition failed after funding",
			"escrow_id", e.ID, "booking_id", bookingID, "error", err)
	}

	c.audit(ctx, newAuditEntry(e.ID, "funded", "", map[string]interface{}{
		"txHash":        txHash,
		"blockNumber":   result.BlockNumber,
		"confirmations": result.Confirmations,
		"gasUsed":       result.GasUsed,
	}))
	metrics.EscrowActionsTotal.WithLabelValues("confirm_escrow", "ok").Inc()
	metrics.EscrowFundedTotal.Inc()

	logging.L(ctx).Info("escrow funded",
		"escrow_id", e.ID, "booking_id", bookingID,
		"tx", txHash, "confirmations", result.Confirmations)
	return c.store.Get(ctx, e.ID)
}

// Release pays the facility out of a funded escrow and completes the
// booking. Arbiter capability is enforced at the transport layer.
func (c *Coordinator) Release(ctx context.Context, escrowID, releaseTxHash, actor string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release",
		traces.EscrowID(escrowID), traces.Action("release_escrow"))
	defer span.End()

	e, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	if err := c.store.MarkReleased(ctx, escrowID, releaseTxHash); err != nil {
		return nil, err
	}

	if _, err := c.bookings.Apply(ctx, e.BookingID, booking.EventEscrowReleased); err != nil {
		logging.L(ctx).Error("booking transition failed after release",
			"escrow_id", escrowID, "booking_id", e.BookingID, "error", err)
	}

	c.audit(ctx, newAuditEntry(escrowID, "released", actor, map[string]interface{}{
		"releaseTxHash": releaseTxHash,
	}))
	metrics.EscrowActionsTotal.WithLabelValues("release_escrow", "ok").Inc()
	metrics.EscrowSettleDuration.Observe(time.Since(e.CreatedAt).Seconds())

	logging.L(ctx).Info("escrow released",
		"escrow_id", escrowID, "booking_id", e.BookingID, "actor", actor)
	return c.store.Get(ctx, escrowID)
}

// Dispute freezes a funded escrow pending arbitration.
func (c *Coordinator) Dispute(ctx context.Context, escrowID, reason, actor string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.dispute",
		traces.EscrowID(escrowID), traces.Action("dispute_escrow"))
	defer span.End()

	e, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	if err := c.store.MarkDisputed(ctx, escrowID, reason); err != nil {
		return nil, err
	}

	if _, err := c.bookings.Apply(ctx, e.BookingID, booking.EventDispute); err != nil {
		logging.L(ctx).Error("booking transition failed after dispute",
			"escrow_id", escrowID, "booking_id", e.BookingID, "error", err)
	}

	c.audit(ctx, newAuditEntry(escrowID, "disputed", actor, map[string]interface{}{
		"reason": reason,
	}))
	metrics.EscrowActionsTotal.WithLabelValues("dispute_escrow", "ok").Inc()
	metrics.EscrowDisputedTotal.Inc()

	logging.L(ctx).Warn("escrow disputed",
		"escrow_id", escrowID, "booking_id", e.BookingID, "reason", reason)
	return c.store.Get(ctx, escrowID)
}

// StatusReport is the full settlement view for one escrow.
type StatusReport struct {
	Escrow  *Escrow          `json:"escrow"`
	Booking *booking.Booking `json:"booking,omitempty"`
	Audit   []*AuditEntry    `json:"audit,omitempty"`
}

// GetStatus returns the escrow, its booking, and the audit trail.
func (c *Coordinator) GetStatus(ctx context.Context, escrowID string) (*StatusReport, error) {
	e, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Escrow: e}
	if b, err := c.bookings.Get(ctx, e.BookingID); err == nil {
		report.Booking = b
	}
	if trail, err := c.auditStore.ListByEscrow(ctx, escrowID); err == nil {
		report.Audit = trail
	}
	return report, nil
}

// GetByBooking returns the escrow attached to a booking.
func (c *Coordinator) GetByBooking(ctx context.Context, bookingID string) (*Escrow, error) {
	return c.store.GetByBooking(ctx, bookingID)
}
