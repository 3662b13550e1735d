package pricing

import (
	"errors"
	"log/slog"
	"testing"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultRates(), slog.Default())
}

func sumComponents(b *Breakdown) int64 {
	return b.BookingCommission + b.EscrowService + b.Tokenization +
		b.StablecoinSettlement + b.InsurancePool + b.AuditorNetwork + b.PriorityMatching
}

func TestCalculateInvariants(t *testing.T) {
	engine := newTestEngine()

	contexts := []Context{
		{Vertical: "cdmo", FacilityType: "manufacturing", PaymentMethod: MethodCrypto, SettlementToken: "USDC"},
		{Vertical: "sequencing", FacilityType: "lab", PaymentMethod: MethodCard, IsPriority: true},
		{Vertical: "biobank", FacilityType: "storage", PaymentMethod: MethodBankTransfer, RequiresInsurance: true},
		{Vertical: "unknown", FacilityType: "unknown", PaymentMethod: MethodCrypto, RequiresTokenization: true},
		{Vertical: "cdmo", FacilityType: "fill_finish", TransactionSize: "large", PaymentMethod: MethodCrypto,
			IsPriority: true, RequiresInsurance: true, RequiresTokenization: true, SettlementToken: "USDT"},
	}
	amounts := []int64{0, 1, 99, 100_00, 4_999_99, 10_000_00, 1_000_000_00}

	for _, ctx := range contexts {
		for _, base := range amounts {
			b, err := engine.Calculate(base, ctx)
			if err != nil {
				t.Fatalf("Calculate(%d, %+v) failed: %v", base, ctx, err)
			}
			if b.TotalFees != sumComponents(b) {
				t.Errorf("totalFees %d != sum of components %d for base %d %+v",
					b.TotalFees, sumComponents(b), base, ctx)
			}
			if b.TotalAmount != base+b.TotalFees {
				t.Errorf("totalAmount %d != base %d + totalFees %d", b.TotalAmount, base, b.TotalFees)
			}
			if b.NetToFacility > base {
				t.Errorf("netToFacility %d exceeds base %d", b.NetToFacility, base)
			}
		}
	}
}

func TestCalculateRejectsNegativeBase(t *testing.T) {
	engine := newTestEngine()
	if _, err := engine.Calculate(-1, Context{}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// The cdmo crypto scenario: commission at the default tier, escrow service,
// priority and insurance fees apply; tokenization, stablecoin and auditor
// fees stay zero.
func TestCalculateCdmoCryptoScenario(t *testing.T) {
	engine := newTestEngine()

	base := int64(10_000_00)
	b, err := engine.Calculate(base, Context{
		Vertical:          "cdmo",
		FacilityType:      "",
		PaymentMethod:     MethodCrypto,
		IsPriority:        true,
		RequiresInsurance: true,
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	// Default category band (cdmo with unknown facility type): 5%.
	if b.BookingCommission != 500_00 {
		t.Errorf("commission = %d, want 50000", b.BookingCommission)
	}
	if b.EscrowService != 150_00 { // 1.5%
		t.Errorf("escrow service = %d, want 15000", b.EscrowService)
	}
	if b.PriorityMatching != 100_00 { // 1%
		t.Errorf("priority = %d, want 10000", b.PriorityMatching)
	}
	if b.InsurancePool != 200_00 { // 2%
		t.Errorf("insurance = %d, want 20000", b.InsurancePool)
	}
	if b.Tokenization != 0 {
		t.Errorf("tokenization = %d, want 0", b.Tokenization)
	}
	if b.StablecoinSettlement != 0 {
		t.Errorf("stablecoin = %d, want 0 (no stable token in context)", b.StablecoinSettlement)
	}
	if b.AuditorNetwork != 0 {
		t.Errorf("auditor = %d, want 0", b.AuditorNetwork)
	}

	wantTotal := base + b.BookingCommission + b.EscrowService + b.PriorityMatching + b.InsurancePool
	if b.TotalAmount != wantTotal {
		t.Errorf("totalAmount = %d, want %d", b.TotalAmount, wantTotal)
	}
}

func TestTokenizationFee(t *testing.T) {
	rates := DefaultRates().Tokenization // flat $25, 2%, cap $50, threshold $5,000

	tests := []struct {
		name string
		base int64
		want int64
	}{
		{"flat floor wins on tiny amounts", 100_00, 25_00},
		{"percentage wins once above flat", 2_000_00, 40_00},
		{"capped below the small-tx threshold", 4_000_00, 50_00},
		{"uncapped at the threshold", 5_000_00, 100_00},
		{"uncapped above the threshold", 10_000_00, 200_00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tokenizationFee(tt.base, rates); got != tt.want {
				t.Errorf("tokenizationFee(%d) = %d, want %d", tt.base, got, tt.want)
			}
		})
	}
}

func TestRoundBpsHalfUp(t *testing.T) {
	tests := []struct {
		cents, bps, want int64
	}{
		{100, 50, 1},   // 0.5 cents rounds up
		{100, 49, 0},   // 0.49 cents rounds down
		{1, 50, 0},     // 0.005 cents rounds down
		{10_000_00, 150, 15_000},
		{0, 1000, 0},
	}
	for _, tt := range tests {
		if got := roundBps(tt.cents, tt.bps); got != tt.want {
			t.Errorf("roundBps(%d, %d) = %d, want %d", tt.cents, tt.bps, got, tt.want)
		}
	}
}

func TestEscrowServiceFeeOnlyForCrypto(t *testing.T) {
	engine := newTestEngine()

	for _, method := range []PaymentMethod{MethodCard, MethodBankTransfer} {
		b, err := engine.Calculate(10_000_00, Context{Vertical: "cdmo", FacilityType: "manufacturing", PaymentMethod: method})
		if err != nil {
			t.Fatalf("Calculate failed: %v", err)
		}
		if b.EscrowService != 0 {
			t.Errorf("escrow service fee applied for %s", method)
		}
	}
}

func TestStablecoinFeeRequiresStableToken(t *testing.T) {
	engine := newTestEngine()

	stable, err := engine.Calculate(10_000_00, Context{PaymentMethod: MethodCrypto, SettlementToken: "USDC"})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if stable.StablecoinSettlement != 30_00 { // 0.3%
		t.Errorf("stablecoin fee = %d, want 3000", stable.StablecoinSettlement)
	}

	volatile, err := engine.Calculate(10_000_00, Context{PaymentMethod: MethodCrypto, SettlementToken: "ETH"})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if volatile.StablecoinSettlement != 0 {
		t.Errorf("stablecoin fee = %d for volatile token, want 0", volatile.StablecoinSettlement)
	}
}

func TestCommissionTierSelection(t *testing.T) {
	engine := newTestEngine()
	base := int64(10_000_00)
	ctx := Context{Vertical: "cdmo", FacilityType: "manufacturing"}

	// Band is {5%, 7.5%, 10%}.
	tests := []struct {
		size string
		want int64
	}{
		{"", 750_00},
		{"standard", 750_00},
		{"large", 500_00},
		{"small", 1000_00},
	}
	for _, tt := range tests {
		ctx.TransactionSize = tt.size
		b, err := engine.Calculate(base, ctx)
		if err != nil {
			t.Fatalf("Calculate failed: %v", err)
		}
		if b.BookingCommission != tt.want {
			t.Errorf("size %q: commission = %d, want %d", tt.size, b.BookingCommission, tt.want)
		}
	}
}

func TestFacilitySideSplitReducesPayout(t *testing.T) {
	rates := DefaultRates()
	rates.FacilitySide = map[Component]bool{ComponentBookingCommission: true}
	engine := NewEngine(rates, slog.Default())

	base := int64(10_000_00)
	b, err := engine.Calculate(base, Context{Vertical: "cdmo", FacilityType: "manufacturing"})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if b.NetToFacility != base-b.BookingCommission {
		t.Errorf("netToFacility = %d, want %d", b.NetToFacility, base-b.BookingCommission)
	}
	if b.TotalAmount != base+b.TotalFees-b.BookingCommission {
		t.Errorf("totalAmount = %d, facility-side commission should not be charged to the buyer", b.TotalAmount)
	}
	if b.NetToFacility > base {
		t.Errorf("netToFacility %d exceeds base %d", b.NetToFacility, base)
	}
}

func TestUpdateRatesValidation(t *testing.T) {
	engine := newTestEngine()

	bad := DefaultRates()
	bad.CommissionDefault = Band{Min: 500, Default: 200, Max: 1000}
	if err := engine.UpdateRates(bad); err == nil {
		t.Fatal("expected validation error for default below min")
	}

	bad = DefaultRates()
	bad.EscrowServiceBps = -1
	if err := engine.UpdateRates(bad); err == nil {
		t.Fatal("expected validation error for negative bps")
	}

	bad = DefaultRates()
	bad.FacilitySide = map[Component]bool{"mystery": true}
	if err := engine.UpdateRates(bad); err == nil {
		t.Fatal("expected validation error for unknown component")
	}

	good := DefaultRates()
	good.EscrowServiceBps = 200
	if err := engine.UpdateRates(good); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if got := engine.Rates().EscrowServiceBps; got != 200 {
		t.Fatalf("rates not updated: got %d", got)
	}
}

func TestRatesCloneIsolation(t *testing.T) {
	engine := newTestEngine()

	snapshot := engine.Rates()
	snapshot.CommissionBands[BandKey("cdmo", "manufacturing")] = Band{Min: 1, Default: 1, Max: 1}
	snapshot.EscrowServiceBps = 9999

	b, err := engine.Calculate(10_000_00, Context{
		Vertical: "cdmo", FacilityType: "manufacturing", PaymentMethod: MethodCrypto,
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if b.EscrowService != 150_00 {
		t.Fatal("mutating a rates snapshot must not affect the engine")
	}
}
