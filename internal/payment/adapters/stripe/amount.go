package stripe

import paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"

// maxAmount is the largest charge Stripe accepts in minor units.
const maxAmount int64 = 99_999_999

// Stripe takes integer minor units, so the wire amount is the internal
// amount. Both directions live here and nowhere else.
func (a *Adapter) toProviderAmount(amount int64) (int64, error) {
	if amount <= 0 || amount > maxAmount {
		return 0, paymentdomain.NewValidationError("amount", "amount_out_of_range", "amount must be between 1 and 99999999 minor units")
	}
	return amount, nil
}

func (a *Adapter) fromProviderAmount(amount int64) int64 {
	return amount
}
