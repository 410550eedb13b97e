// Package amount converts between human decimal amounts and integer base units.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

const MaxDecimals = 36

var ErrInvalidAmount = errors.New("invalid amount")

// NativeDecimals is the precision of the chain's native coin.
const NativeDecimals = 18

// Parse reads a strictly positive decimal number.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s must be greater than 0", ErrInvalidAmount, s)
	}
	return d, nil
}

// ToBaseUnits scales d by 10^decimals. Amounts finer than the token precision
// are rejected rather than truncated.
func ToBaseUnits(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: decimals %d above %d", ErrInvalidAmount, decimals, MaxDecimals)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseBaseUnits is Parse followed by ToBaseUnits.
func ParseBaseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(d, decimals)
}

// Format renders base units as a decimal string.
func Format(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -int32(decimals)).String()
}

// Random draws uniformly from [lo, hi] and rounds to places decimal places.
func Random(rng *rand.Rand, lo, hi decimal.Decimal, places int32) decimal.Decimal {
	span := hi.Sub(lo)
	return lo.Add(span.Mul(decimal.NewFromFloat(rng.Float64()))).Round(places)
}
