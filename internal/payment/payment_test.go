package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v81"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/escrow"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

func testBooking(method pricing.PaymentMethod) *booking.Booking {
	return &booking.Booking{
		ID:            "11111111-2222-3333-4444-555555555555",
		SlotID:        "slot-42",
		BaseAmount:    10_000_00,
		TotalAmount:   10_950_00,
		PaymentMethod: method,
	}
}

type fakeIntents struct {
	lastParams *stripe.PaymentIntentParams
	err        error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func TestCardHandlerCreatesIntent(t *testing.T) {
	intents := &fakeIntents{}
	h := &CardHandler{intents: intents}

	inst, err := h.Initiate(context.Background(), testBooking(pricing.MethodCard))
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	if got := *intents.lastParams.Amount; got != 10_950_00 {
		t.Errorf("intent amount = %d, want total including fees", got)
	}
	if inst.Details["paymentIntentId"] != "pi_test" {
		t.Errorf("details = %+v", inst.Details)
	}
}

func TestCardHandlerPropagatesStripeError(t *testing.T) {
	h := &CardHandler{intents: &fakeIntents{err: errors.New("card_declined")}}

	if _, err := h.Initiate(context.Background(), testBooking(pricing.MethodCard)); err == nil {
		t.Fatal("expected error")
	}
}

type fakeEscrows struct {
	escrow *escrow.Escrow
}

func (f *fakeEscrows) GetByBooking(_ context.Context, _ string) (*escrow.Escrow, error) {
	if f.escrow == nil {
		return nil, escrow.ErrEscrowNotFound
	}
	return f.escrow, nil
}

func TestCryptoHandlerRendersFundingInstructions(t *testing.T) {
	h := NewCryptoHandler(&fakeEscrows{escrow: &escrow.Escrow{
		ID: "esc_abc", Token: "USDC", Network: "base",
	}}, "0x3333333333333333333333333333333333333333", "base-sepolia")

	inst, err := h.Initiate(context.Background(), testBooking(pricing.MethodCrypto))
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	if inst.Details["escrowId"] != "esc_abc" {
		t.Errorf("escrowId missing: %+v", inst.Details)
	}
	if inst.Details["network"] != "base" {
		t.Errorf("network = %v, want the escrow's network", inst.Details["network"])
	}
	// $10,950.00 in 6-decimal units.
	if inst.Details["tokenAmount"] != "10950.000000" {
		t.Errorf("tokenAmount = %v", inst.Details["tokenAmount"])
	}
}

func TestCryptoHandlerWithoutEscrow(t *testing.T) {
	h := NewCryptoHandler(&fakeEscrows{}, "0x3333333333333333333333333333333333333333", "base-sepolia")

	inst, err := h.Initiate(context.Background(), testBooking(pricing.MethodCrypto))
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if _, ok := inst.Details["escrowId"]; ok {
		t.Error("escrowId present without an open escrow")
	}
	if inst.Details["network"] != "base-sepolia" {
		t.Errorf("network = %v, want handler default", inst.Details["network"])
	}
}

func TestBankTransferReference(t *testing.T) {
	h := NewBankTransferHandler("Desynth Settlement Ltd", "DE02120300000000202051")

	inst, err := h.Initiate(context.Background(), testBooking(pricing.MethodBankTransfer))
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	want := "DSYN-11111111-2222-3333-4444-555555555555"
	if inst.Details["reference"] != want {
		t.Errorf("reference = %v, want %s", inst.Details["reference"], want)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(pricing.MethodBankTransfer, NewBankTransferHandler("x", "y"))

	if _, err := r.Initiate(context.Background(), testBooking(pricing.MethodBankTransfer)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if _, err := r.Initiate(context.Background(), testBooking(pricing.MethodCard)); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("got %v, want ErrUnsupportedMethod", err)
	}
}
