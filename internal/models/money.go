package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Monetary values are int64 minor units everywhere below the HTTP, CSV and
// XML boundaries. These helpers are the only place they meet decimals.

var currencyExponents = map[string]int32{
	"JPY": 0, "KRW": 0, "ISK": 0, "CLP": 0, "VND": 0,
	"BHD": 3, "KWD": 3, "JOD": 3, "OMR": 3, "TND": 3,
}

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ToDecimal converts minor units to a decimal amount.
func ToDecimal(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}

// FormatAmount renders minor units as a fixed-point string, e.g. 4500 -> "45.00".
func FormatAmount(minor int64, currency string) string {
	return ToDecimal(minor, currency).StringFixed(CurrencyExponent(currency))
}

// ParseAmount parses a decimal string into minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func ParseAmount(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return DecimalToMinor(d, currency)
}

// DecimalToMinor converts a decimal amount into minor units of currency.
func DecimalToMinor(d decimal.Decimal, currency string) (int64, error) {
	shifted := d.Shift(CurrencyExponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has too many decimal places for %s", ErrInvalidAmount, d.String(), currency)
	}
	return shifted.IntPart(), nil
}

// RoundToIncrement rounds minor units half-up (away from zero) to the nearest
// multiple of increment. Increments of 0 or 1 leave the amount untouched.
func RoundToIncrement(minor, increment int64) int64 {
	if increment <= 1 {
		return minor
	}
	if minor < 0 {
		return -RoundToIncrement(-minor, increment)
	}
	q, r := minor/increment, minor%increment
	if r*2 >= increment {
		q++
	}
	return q * increment
}

// Money pairs an amount in minor units with its currency for API responses.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

func NewMoney(minor int64, currency string) Money {
	return Money{Amount: minor, Currency: currency, Display: FormatAmount(minor, currency)}
}
