// Package payment dispatches booking payments to per-method handlers.
//
// Each payment method is a tagged variant: cards settle through Stripe,
// crypto delegates to the escrow coordinator, and bank transfers produce
// wire instructions for manual reconciliation.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

var ErrUnsupportedMethod = errors.New("unsupported payment method")

// Instruction tells the buyer how to complete payment for a booking.
type Instruction struct {
	Method    pricing.PaymentMethod  `json:"method"`
	BookingID string                 `json:"bookingId"`
	Amount    int64                  `json:"amount"` // cents
	Details   map[string]interface{} `json:"details,omitempty"`
}

// MethodHandler initiates payment for a booking using one method.
type MethodHandler interface {
	Initiate(ctx context.Context, b *booking.Booking) (*Instruction, error)
}

// Registry maps payment methods to their handlers.
type Registry struct {
	handlers map[pricing.PaymentMethod]MethodHandler
}

// NewRegistry creates an empty payment registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[pricing.PaymentMethod]MethodHandler)}
}

// Register binds a handler to a method, replacing any previous binding.
func (r *Registry) Register(method pricing.PaymentMethod, h MethodHandler) {
	r.handlers[method] = h
}

// Initiate routes the booking to its method handler.
func (r *Registry) Initiate(ctx context.Context, b *booking.Booking) (*Instruction, error) {
	h, ok := r.handlers[b.PaymentMethod]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, b.PaymentMethod)
	}
	return h.Initiate(ctx, b)
}
