package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/logging"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

// intentCreator is the slice of the Stripe client the card handler uses.
type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// CardHandler settles card payments through Stripe PaymentIntents.
type CardHandler struct {
	intents intentCreator
}

// NewCardHandler creates a card handler with the given Stripe secret key.
func NewCardHandler(secretKey string) *CardHandler {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &CardHandler{intents: sc.PaymentIntents}
}

func (h *CardHandler) Initiate(ctx context.Context, b *booking.Booking) (*Instruction, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(b.TotalAmount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Metadata: map[string]string{
			"booking_id": b.ID,
			"slot_id":    b.SlotID,
		},
	}
	params.Context = ctx

	intent, err := h.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent: %w", err)
	}

	logging.L(ctx).Info("card payment initiated",
		"booking_id", b.ID, "intent_id", intent.ID, "amount", b.TotalAmount)

	return &Instruction{
		Method:    pricing.MethodCard,
		BookingID: b.ID,
		Amount:    b.TotalAmount,
		Details: map[string]interface{}{
			"paymentIntentId": intent.ID,
			"clientSecret":    intent.ClientSecret,
		},
	}, nil
}

var _ MethodHandler = (*CardHandler)(nil)
