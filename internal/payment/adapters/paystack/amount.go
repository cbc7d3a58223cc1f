package paystack

import paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"

// maxAmount caps a single charge at 10 billion subunits.
const maxAmount int64 = 10_000_000_000

// Paystack amounts are integer subunits (kobo, pesewas, cents), the same
// scale the orchestrator stores.
func (a *Adapter) toProviderAmount(amount int64) (int64, error) {
	if amount <= 0 || amount > maxAmount {
		return 0, paymentdomain.NewValidationError("amount", "amount_out_of_range", "amount must be between 1 and 10000000000 subunits")
	}
	return amount, nil
}

func (a *Adapter) fromProviderAmount(amount int64) int64 {
	return amount
}
