// Package pricing computes the itemized fee breakdown for a booking.
//
// Calculate is pure: rates are snapshotted at call time and the result is
// copied onto the booking, so later rate edits never change what an
// existing booking was charged.
//
// All amounts are integer cents. Percentage components are applied in
// basis points and rounded half-up per component; the totals are sums of
// already-rounded components and are never re-rounded.
package pricing

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bzeklaf/desynth-sub000/internal/metrics"
	"github.com/bzeklaf/desynth-sub000/internal/usdc"
)

// ErrInvalidAmount is returned for a negative base amount, the only hard
// failure Calculate has. Business-rule gaps (unknown vertical, missing
// band) degrade to defaults instead of failing the booking.
var ErrInvalidAmount = errors.New("base amount must not be negative")

// PaymentMethod is the closed set of ways a buyer can settle a booking.
// Components that branch on it (fee rules, payment handlers) switch over
// this type rather than comparing loose strings.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodCrypto       PaymentMethod = "crypto"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodCrypto, MethodBankTransfer:
		return true
	}
	return false
}

// Context carries the booking attributes the fee rules branch on.
type Context struct {
	Vertical             string        `json:"vertical"`
	FacilityType         string        `json:"facilityType"`
	TransactionSize      string        `json:"transactionSize"` // "small", "standard", "large"
	IsPriority           bool          `json:"isPriority"`
	PaymentMethod        PaymentMethod `json:"paymentMethod"`
	RequiresInsurance    bool          `json:"requiresInsurance"`
	RequiresTokenization bool          `json:"requiresTokenization"`
	SettlementToken      string        `json:"settlementToken"` // token symbol for the crypto leg
}

// Breakdown is the immutable fee snapshot stored on a booking.
type Breakdown struct {
	BaseAmount int64 `json:"baseAmount"`

	BookingCommission    int64 `json:"bookingCommission"`
	EscrowService        int64 `json:"escrowService"`
	Tokenization         int64 `json:"tokenization"`
	StablecoinSettlement int64 `json:"stablecoinSettlement"`
	InsurancePool        int64 `json:"insurancePool"`
	AuditorNetwork       int64 `json:"auditorNetwork"`
	PriorityMatching     int64 `json:"priorityMatching"`

	TotalFees     int64 `json:"totalFees"`
	TotalAmount   int64 `json:"totalAmount"`
	NetToFacility int64 `json:"netToFacility"`
}

// components returns the component amounts keyed by name.
func (b *Breakdown) components() map[Component]int64 {
	return map[Component]int64{
		ComponentBookingCommission:    b.BookingCommission,
		ComponentEscrowService:        b.EscrowService,
		ComponentTokenization:         b.Tokenization,
		ComponentStablecoinSettlement: b.StablecoinSettlement,
		ComponentInsurancePool:        b.InsurancePool,
		ComponentAuditorNetwork:       b.AuditorNetwork,
		ComponentPriorityMatching:     b.PriorityMatching,
	}
}

// Engine computes fee breakdowns from admin-mutable rates.
type Engine struct {
	mu     sync.RWMutex
	rates  *Rates
	logger *slog.Logger
}

// NewEngine creates a pricing engine with the given rates.
func NewEngine(rates *Rates, logger *slog.Logger) *Engine {
	if rates == nil {
		rates = DefaultRates()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rates: rates, logger: logger}
}

// Rates returns a deep copy of the current rate configuration.
func (e *Engine) Rates() *Rates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates.clone()
}

// UpdateRates replaces the rate configuration. Existing bookings keep the
// breakdown snapshotted at their creation; only future bookings see the
// new rates.
func (e *Engine) UpdateRates(rates *Rates) error {
	if err := rates.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates = rates.clone()
	return nil
}

// Calculate computes the fee breakdown for baseCents under ctx.
func (e *Engine) Calculate(baseCents int64, ctx Context) (*Breakdown, error) {
	if baseCents < 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.RLock()
	rates := e.rates
	e.mu.RUnlock()

	b := &Breakdown{BaseAmount: baseCents}

	b.BookingCommission = e.commission(baseCents, ctx, rates)

	if ctx.PaymentMethod == MethodCrypto {
		b.EscrowService = roundBps(baseCents, rates.EscrowServiceBps)
		if usdc.IsStable(ctx.SettlementToken) {
			b.StablecoinSettlement = roundBps(baseCents, rates.StablecoinSettlementBps)
		}
	}

	if ctx.RequiresTokenization {
		b.Tokenization = tokenizationFee(baseCents, rates.Tokenization)
	}

	if ctx.RequiresInsurance {
		b.InsurancePool = roundBps(baseCents, rates.InsurancePoolBps)
	}

	if ctx.IsPriority {
		b.PriorityMatching = roundBps(baseCents, rates.PriorityMatchingBps)
	}

	// Flat fee, independent of the base amount, clamped to its band.
	b.AuditorNetwork = clamp(rates.AuditorNetwork.Default, rates.AuditorNetwork.Min, rates.AuditorNetwork.Max)

	var buyerSide, facilitySide int64
	for component, amount := range b.components() {
		b.TotalFees += amount
		if rates.FacilitySide[component] {
			facilitySide += amount
		} else {
			buyerSide += amount
		}
	}
	b.TotalAmount = baseCents + buyerSide
	b.NetToFacility = baseCents - facilitySide

	metrics.FeeCalculations.WithLabelValues(ctx.Vertical).Inc()
	return b, nil
}

// commission selects a rate inside the vertical/facility-type band.
// Unrecognized combinations fall back to the category default band and
// never fail the booking.
func (e *Engine) commission(baseCents int64, ctx Context, rates *Rates) int64 {
	band, ok := rates.CommissionBands[BandKey(ctx.Vertical, ctx.FacilityType)]
	if !ok {
		e.logger.Warn("no commission band for booking category, using default",
			"vertical", ctx.Vertical,
			"facility_type", ctx.FacilityType,
		)
		band = rates.CommissionDefault
	}

	bps := band.Default
	switch ctx.TransactionSize {
	case "large":
		bps = band.Min
	case "small":
		bps = band.Max
	}
	bps = clamp(bps, band.Min, band.Max)

	return roundBps(baseCents, bps)
}

// tokenizationFee is max(flat, pct*base), capped at a fixed ceiling for
// small transactions.
func tokenizationFee(baseCents int64, t TokenizationRates) int64 {
	fee := t.FlatCents
	if pct := roundBps(baseCents, t.Bps); pct > fee {
		fee = pct
	}
	if baseCents < t.SmallTxThresholdCents && fee > t.CapCents {
		fee = t.CapCents
	}
	return fee
}

// roundBps applies a basis-point rate to cents, rounding half-up.
// Integer arithmetic keeps the result exact and auditable.
func roundBps(cents, bps int64) int64 {
	return (cents*bps + 5_000) / 10_000
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
