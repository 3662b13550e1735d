package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/logging"
	"github.com/bzeklaf/desynth-sub000/internal/metrics"
	"github.com/bzeklaf/desynth-sub000/internal/traces"
)

// ErrInvalidWinner rejects a resolution that names neither party.
var ErrInvalidWinner = errors.New("winner must be buyer or facility")

// Resolve settles a disputed escrow in favor of one party. The
// resolution is terminal: the conditional disputed -> resolved write
// guarantees a second resolution attempt fails with a state error, no
// matter how it races the first. Admin capability is enforced at the
// transport layer.
func (c *Coordinator) Resolve(ctx context.Context, escrowID string, winner Winner, resolution, actor string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.resolve",
		traces.EscrowID(escrowID), traces.Action("resolve_dispute"))
	defer span.End()

	if !winner.Valid() {
		return nil, ErrInvalidWinner
	}

	e, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	if err := c.store.MarkResolved(ctx, escrowID, winner, resolution); err != nil {
		return nil, err
	}

	event := booking.EventResolveForBuyer
	if winner == WinnerFacility {
		event = booking.EventResolveForFacility
	}
	if _, err := c.bookings.Apply(ctx, e.BookingID, event); err != nil {
		logging.L(ctx).Error("booking transition failed after resolution",
			"escrow_id", escrowID, "booking_id", e.BookingID, "error", err)
	}

	c.audit(ctx, newAuditEntry(escrowID, "resolved", actor, map[string]interface{}{
		"winner":     string(winner),
		"resolution": resolution,
	}))
	metrics.EscrowActionsTotal.WithLabelValues("resolve_dispute", "ok").Inc()
	metrics.EscrowSettleDuration.Observe(time.Since(e.CreatedAt).Seconds())

	logging.L(ctx).Info("dispute resolved",
		"escrow_id", escrowID, "booking_id", e.BookingID,
		"winner", winner, "actor", actor)
	return c.store.Get(ctx, escrowID)
}
