package library

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in pence.
type Money int64

// maxMoney bounds parsed amounts well inside int64 pence.
var maxMoney = decimal.New(1, 15)

// ParseMoney reads a decimal pound amount and rounds it half up to the penny.
// Legacy values such as "5.0" or "12" are accepted.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidField, s, err)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d to the penny.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return 0, fmt.Errorf("%w: amount %s out of range", ErrInvalidField, d)
	}
	return Money(d.Round(2).Shift(2).IntPart()), nil
}

// Pence builds a Money value from a whole number of pence.
func Pence(p int64) Money { return Money(p) }

// Pounds builds a Money value from whole pounds.
func Pounds(p int64) Money { return Money(p * 100) }

func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -2) }

// String formats the amount with exactly two decimal places.
func (m Money) String() string { return m.Decimal().StringFixed(2) }

func minMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}
