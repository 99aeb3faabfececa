package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents) with an ISO 4217 currency code.
// Saferpay expects Amount.Value as a string of cents, so integer arithmetic
// avoids any floating point rounding on the wire.
type Money struct {
	Cents    int64
	Currency string
}

// ParseMoney converts a host-supplied decimal amount such as "10.00" into
// minor units. Amounts with more than two decimal places or non-positive
// values are rejected.
func ParseMoney(amount, currency string) (Money, error) {
	if currency == "" {
		return Money{}, NewMissingFieldError("currency")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, NewInvalidAmountError(fmt.Sprintf("cannot parse amount %q", amount))
	}
	if d.Exponent() < -2 {
		return Money{}, NewInvalidAmountError(fmt.Sprintf("amount %q has sub-cent precision", amount))
	}

	cents := d.Shift(2)
	if !cents.IsInteger() {
		return Money{}, NewInvalidAmountError(fmt.Sprintf("amount %q has sub-cent precision", amount))
	}
	if cents.Sign() <= 0 {
		return Money{}, NewInvalidAmountError("amount must be positive")
	}

	return Money{Cents: cents.IntPart(), Currency: currency}, nil
}

// MoneyFromCents wraps an already-converted minor unit amount.
func MoneyFromCents(cents int64, currency string) (Money, error) {
	if cents <= 0 {
		return Money{}, NewInvalidAmountError("amount must be positive")
	}
	if currency == "" {
		return Money{}, NewMissingFieldError("currency")
	}
	return Money{Cents: cents, Currency: currency}, nil
}

// Value renders the amount the way Saferpay wants it: cents as a string.
func (m Money) Value() string {
	return fmt.Sprintf("%d", m.Cents)
}

// Decimal returns the amount in major units, e.g. 1000 cents -> 10.00.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(2), m.Currency)
}
