package payment

import (
	"context"
	"fmt"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

// BankTransferHandler issues wire instructions with a reference code for
// manual reconciliation.
type BankTransferHandler struct {
	beneficiary string
	iban        string
}

// NewBankTransferHandler creates a bank-transfer handler.
func NewBankTransferHandler(beneficiary, iban string) *BankTransferHandler {
	return &BankTransferHandler{beneficiary: beneficiary, iban: iban}
}

func (h *BankTransferHandler) Initiate(ctx context.Context, b *booking.Booking) (*Instruction, error) {
	return &Instruction{
		Method:    pricing.MethodBankTransfer,
		BookingID: b.ID,
		Amount:    b.TotalAmount,
		Details: map[string]interface{}{
			"beneficiary": h.beneficiary,
			"iban":        h.iban,
			"reference":   fmt.Sprintf("DSYN-%s", b.ID),
		},
	}, nil
}

var _ MethodHandler = (*BankTransferHandler)(nil)
