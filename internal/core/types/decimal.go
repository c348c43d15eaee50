// Package types provides money and amount helpers over shopspring/decimal.
package types

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Amount is a stock quantity or weight.
type Amount = decimal.Decimal

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Int returns n as an Amount.
func Int(n int64) Amount {
	return decimal.NewFromInt(n)
}

// LineTotal returns price multiplied by quantity.
func LineTotal(price Money, quantity Amount) Money {
	return price.Mul(quantity)
}
