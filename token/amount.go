// Package token converts between human-readable token amounts and their
// smallest-unit integer form, and decodes ERC-20 Transfer events. All
// money comparisons elsewhere in the engine happen in the integer
// domain; this package is the only place decimal strings are touched.
package token

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/paylinc/chainverify/types"
)

// ToSmallestUnit converts a decimal string to the token's smallest-unit
// integer. It rejects anything that cannot be represented exactly:
// negative amounts, non-numeric input, and more fractional digits than
// the token carries. No rounding, ever.
func ToSmallestUnit(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, malformed(amount, "not a valid decimal")
	}
	if d.IsNegative() {
		return nil, malformed(amount, "amount cannot be negative")
	}

	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, malformed(amount, fmt.Sprintf("more than %d fractional digits", decimals))
	}
	return shifted.BigInt(), nil
}

// ToDecimalString is the exact inverse of ToSmallestUnit. Trailing zeros
// are normalized away, so "10.50" round-trips to "10.5".
func ToDecimalString(n *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(n, -decimals).String()
}

func malformed(amount, why string) error {
	return &types.Error{
		Code:    types.ErrMalformedAmount,
		Message: fmt.Sprintf("malformed amount %q: %s", amount, why),
	}
}
