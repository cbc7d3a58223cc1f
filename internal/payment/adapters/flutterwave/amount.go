package flutterwave

import (
	"errors"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/money"
)

// maxMajorAmount caps a single checkout in major units.
var maxMajorAmount = decimal.NewFromInt(100_000_000)

// Flutterwave takes decimal major units. Conversion goes through the
// currency exponent table in both directions.
func (a *Adapter) toProviderAmount(amount int64, currency string) (decimal.Decimal, error) {
	if amount <= 0 {
		return decimal.Zero, paymentdomain.NewValidationError("amount", "amount_out_of_range", "amount must be positive")
	}
	major, err := money.MinorToMajor(amount, currency)
	if err != nil {
		return decimal.Zero, paymentdomain.NewValidationError("currency", "unsupported_currency", err.Error())
	}
	if major.GreaterThan(maxMajorAmount) {
		return decimal.Zero, paymentdomain.NewValidationError("amount", "amount_out_of_range", "amount exceeds provider limit")
	}
	return major, nil
}

func (a *Adapter) fromProviderAmount(value decimal.Decimal, currency string) (int64, error) {
	minor, err := money.MajorToMinor(value, currency)
	if err != nil {
		if errors.Is(err, money.ErrFractionalAmount) {
			return 0, a.client.Fail("invalid_amount", "provider amount has sub-minor precision")
		}
		return 0, a.client.Fail("unsupported_currency", err.Error())
	}
	return minor, nil
}
