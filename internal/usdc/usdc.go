// Package usdc provides stable-token unit conversion for escrow settlement.
//
// Escrow amounts are tracked internally as integer cents. On-chain legs
// settle in 6-decimal stablecoin units (1 USDC = 1,000,000 units), so
// one cent is 10,000 units.
package usdc

import (
	"math/big"
	"strings"
)

const Decimals = 6

// unitsPerCent converts cents (2 decimals) to token units (6 decimals).
var unitsPerCent = big.NewInt(10_000)

// stableTokens are the settlement tokens treated as stable-value for the
// stablecoin-settlement fee rule. Keys are upper-case symbols.
var stableTokens = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
}

// IsStable reports whether the given token symbol is a stable-value token.
func IsStable(symbol string) bool {
	return stableTokens[strings.ToUpper(strings.TrimSpace(symbol))]
}

// FromCents converts integer cents to smallest-unit token amount.
func FromCents(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), unitsPerCent)
}

// ToCents converts a smallest-unit token amount to integer cents,
// truncating sub-cent dust.
func ToCents(units *big.Int) int64 {
	if units == nil {
		return 0
	}
	return new(big.Int).Div(units, unitsPerCent).Int64()
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}
