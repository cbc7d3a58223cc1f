// Package money holds currency metadata and the integer/decimal
// conversions adapters use at their wire boundary.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCurrency  = errors.New("unknown_currency")
	ErrFractionalAmount = errors.New("fractional_minor_amount")
	ErrNegativeAmount   = errors.New("negative_amount")
)

// exponents maps ISO 4217 codes to their minor unit exponent. Codes absent
// from the table are rejected.
var exponents = map[string]int32{
	"USD": 2, "EUR": 2, "GBP": 2, "CAD": 2, "AUD": 2, "CHF": 2,
	"NGN": 2, "GHS": 2, "KES": 2, "ZAR": 2, "EGP": 2, "MAD": 2,
	"TZS": 2, "UGX": 0, "RWF": 0, "XOF": 0, "XAF": 0, "MWK": 2,
	"ZMW": 2, "SLL": 2, "JPY": 0, "KRW": 0, "INR": 2, "BRL": 2,
	"KWD": 3, "BHD": 3, "TND": 3,
}

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := exponents[code]; !ok {
		return "", ErrUnknownCurrency
	}
	return code, nil
}

// Exponent returns the number of minor-unit digits for code.
func Exponent(code string) (int32, error) {
	exp, ok := exponents[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, ErrUnknownCurrency
	}
	return exp, nil
}

// MinorToMajor converts an integer minor amount to an exact major-unit
// decimal, for example 5000 USD -> 50.00.
func MinorToMajor(amount int64, currency string) (decimal.Decimal, error) {
	if amount < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	exp, err := Exponent(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(amount, -exp), nil
}

// MajorToMinor is the inverse of MinorToMajor. Values with more precision
// than the currency allows are rejected rather than rounded.
func MajorToMinor(value decimal.Decimal, currency string) (int64, error) {
	if value.IsNegative() {
		return 0, ErrNegativeAmount
	}
	exp, err := Exponent(currency)
	if err != nil {
		return 0, err
	}
	shifted := value.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrFractionalAmount
	}
	return shifted.IntPart(), nil
}
