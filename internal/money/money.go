// Package money converts between base units (wei) and display units and
// computes loan balances. All amounts are integers in base units.
package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed display scale of the chain currency.
const Decimals = 18

// bpsMonthsPerYear is 10_000 basis points times 12 months.
var bpsMonthsPerYear = big.NewInt(10_000 * 12)

// ParseEther converts a decimal display amount (e.g. "10.5") to base units.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	return shifted.BigInt(), nil
}

// MustEther is ParseEther for constants and tests.
func MustEther(s string) *big.Int {
	v, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatEther renders base units in display units without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -Decimals).String()
}

// ParseWei parses a base-unit integer string.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-unit amount %q", s)
	}
	return v, nil
}

// LoanBalance returns the principal plus simple interest at rateBPS per annum
// over termMonths. Interest is rounded down to whole base units.
func LoanBalance(principal *big.Int, rateBPS, termMonths int) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return new(big.Int)
	}
	interest := new(big.Int).Mul(principal, big.NewInt(int64(rateBPS)))
	interest.Mul(interest, big.NewInt(int64(termMonths)))
	interest.Quo(interest, bpsMonthsPerYear)
	return interest.Add(interest, principal)
}

// PercentToBPS converts a whole percent rate to basis points.
func PercentToBPS(percent int) int {
	return percent * 100
}
