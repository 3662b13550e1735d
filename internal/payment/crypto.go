package payment

import (
	"context"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/escrow"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
	"github.com/bzeklaf/desynth-sub000/internal/usdc"
)

// escrowOpener is the slice of the escrow coordinator the crypto handler
// uses.
type escrowOpener interface {
	GetByBooking(ctx context.Context, bookingID string) (*escrow.Escrow, error)
}

// CryptoHandler points the buyer at the booking's escrow. The escrow is
// opened separately through the settlement API; this handler renders the
// funding instructions.
type CryptoHandler struct {
	escrows        escrowOpener
	depositAddress string
	network        string
}

// NewCryptoHandler creates a crypto handler. depositAddress is the
// settlement contract the buyer funds; network names the chain.
func NewCryptoHandler(escrows escrowOpener, depositAddress, network string) *CryptoHandler {
	return &CryptoHandler{escrows: escrows, depositAddress: depositAddress, network: network}
}

func (h *CryptoHandler) Initiate(ctx context.Context, b *booking.Booking) (*Instruction, error) {
	details := map[string]interface{}{
		"depositAddress": h.depositAddress,
		"network":        h.network,
		"tokenAmount":    usdc.Format(usdc.FromCents(b.TotalAmount)),
	}

	// An escrow may already be open for this booking; surface it so the
	// buyer funds the right one.
	if e, err := h.escrows.GetByBooking(ctx, b.ID); err == nil {
		details["escrowId"] = e.ID
		details["token"] = e.Token
		if e.Network != "" {
			details["network"] = e.Network
		}
	}

	return &Instruction{
		Method:    pricing.MethodCrypto,
		BookingID: b.ID,
		Amount:    b.TotalAmount,
		Details:   details,
	}, nil
}

var _ MethodHandler = (*CryptoHandler)(nil)
