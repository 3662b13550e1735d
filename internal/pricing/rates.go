package pricing

import (
	"fmt"
)

// Component names the seven fee components of a breakdown.
type Component string

const (
	ComponentBookingCommission    Component = "booking_commission"
	ComponentEscrowService        Component = "escrow_service"
	ComponentTokenization         Component = "tokenization"
	ComponentStablecoinSettlement Component = "stablecoin_settlement"
	ComponentInsurancePool        Component = "insurance_pool"
	ComponentAuditorNetwork       Component = "auditor_network"
	ComponentPriorityMatching     Component = "priority_matching"
)

// Band is a {minimum, default, maximum} range. For commission bands the
// values are basis points; for the auditor-network fee they are cents.
type Band struct {
	Min     int64 `json:"min"`
	Default int64 `json:"default"`
	Max     int64 `json:"max"`
}

func (b Band) validate(name string) error {
	if b.Min < 0 {
		return fmt.Errorf("%s: min must not be negative", name)
	}
	if b.Default < b.Min || b.Default > b.Max {
		return fmt.Errorf("%s: default must lie within [min, max]", name)
	}
	return nil
}

// TokenizationRates is the {flat, percentage} pair for the tokenization
// fee plus its small-transaction cap.
type TokenizationRates struct {
	FlatCents             int64 `json:"flatCents"`
	Bps                   int64 `json:"bps"`
	CapCents              int64 `json:"capCents"`
	SmallTxThresholdCents int64 `json:"smallTxThresholdCents"`
}

// Rates is the process-wide, admin-mutable fee configuration. It is read
// at the moment a booking's fees are computed; edits affect only future
// bookings.
type Rates struct {
	// CommissionBands maps BandKey(vertical, facilityType) to a
	// basis-point band.
	CommissionBands map[string]Band `json:"commissionBands"`
	// CommissionDefault is the category fallback band for unrecognized
	// vertical/facility-type combinations.
	CommissionDefault Band `json:"commissionDefault"`

	EscrowServiceBps        int64             `json:"escrowServiceBps"`
	Tokenization            TokenizationRates `json:"tokenization"`
	StablecoinSettlementBps int64             `json:"stablecoinSettlementBps"`
	InsurancePoolBps        int64             `json:"insurancePoolBps"`
	// AuditorNetwork is a flat-cents band, independent of the base amount.
	AuditorNetwork      Band  `json:"auditorNetwork"`
	PriorityMatchingBps int64 `json:"priorityMatchingBps"`

	// FacilitySide marks components deducted from the facility payout.
	// Components not listed are charged to the buyer on top of the base
	// amount. The split is configuration, not computed.
	FacilitySide map[Component]bool `json:"facilitySide"`
}

// BandKey builds the commission band lookup key.
func BandKey(vertical, facilityType string) string {
	return vertical + "/" + facilityType
}

// DefaultRates returns the launch fee schedule.
func DefaultRates() *Rates {
	return &Rates{
		CommissionBands: map[string]Band{
			BandKey("cdmo", "manufacturing"):  {Min: 500, Default: 750, Max: 1000},
			BandKey("cdmo", "fill_finish"):    {Min: 600, Default: 800, Max: 1200},
			BandKey("sequencing", "lab"):      {Min: 300, Default: 500, Max: 800},
			BandKey("sequencing", "clinical"): {Min: 400, Default: 600, Max: 900},
			BandKey("biobank", "storage"):     {Min: 200, Default: 400, Max: 600},
		},
		CommissionDefault: Band{Min: 300, Default: 500, Max: 1000},

		EscrowServiceBps: 150, // 1.5%, crypto settlements only
		Tokenization: TokenizationRates{
			FlatCents:             25_00,
			Bps:                   200, // 2%
			CapCents:              50_00,
			SmallTxThresholdCents: 5_000_00,
		},
		StablecoinSettlementBps: 30,  // 0.3%
		InsurancePoolBps:        200, // 2%
		AuditorNetwork:          Band{Min: 0, Default: 0, Max: 100_00},
		PriorityMatchingBps:     100, // 1%

		FacilitySide: map[Component]bool{},
	}
}

// Validate checks rate configuration sanity.
func (r *Rates) Validate() error {
	if r == nil {
		return fmt.Errorf("rates must not be nil")
	}
	for key, band := range r.CommissionBands {
		if err := band.validate("commission band " + key); err != nil {
			return err
		}
	}
	if err := r.CommissionDefault.validate("commission default"); err != nil {
		return err
	}
	if err := r.AuditorNetwork.validate("auditor network"); err != nil {
		return err
	}
	for name, bps := range map[string]int64{
		"escrowServiceBps":        r.EscrowServiceBps,
		"stablecoinSettlementBps": r.StablecoinSettlementBps,
		"insurancePoolBps":        r.InsurancePoolBps,
		"priorityMatchingBps":     r.PriorityMatchingBps,
		"tokenization.bps":        r.Tokenization.Bps,
	} {
		if bps < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if r.Tokenization.FlatCents < 0 || r.Tokenization.CapCents < 0 || r.Tokenization.SmallTxThresholdCents < 0 {
		return fmt.Errorf("tokenization amounts must not be negative")
	}
	for component := range r.FacilitySide {
		switch component {
		case ComponentBookingCommission, ComponentEscrowService, ComponentTokenization,
			ComponentStablecoinSettlement, ComponentInsurancePool,
			ComponentAuditorNetwork, ComponentPriorityMatching:
		default:
			return fmt.Errorf("unknown facility-side component %q", component)
		}
	}
	return nil
}

// clone returns a deep copy so callers can't mutate shared state.
func (r *Rates) clone() *Rates {
	cp := *r
	cp.CommissionBands = make(map[string]Band, len(r.CommissionBands))
	for k, v := range r.CommissionBands {
		cp.CommissionBands[k] = v
	}
	cp.FacilitySide = make(map[Component]bool, len(r.FacilitySide))
	for k, v := range r.FacilitySide {
		cp.FacilitySide[k] = v
	}
	return &cp
}
