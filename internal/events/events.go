package events

// Payment event types written to the outbox.
const (
	EventPaymentIntentProcessing = "payment_intent.processing"
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventPaymentIntentFailed     = "payment_intent.failed"
	EventPaymentIntentCancelled  = "payment_intent.cancelled"
	// EventPaymentIntentReviewRequired is written when a provider report
	// contradicts the stored intent.
	EventPaymentIntentReviewRequired = "payment_intent.review_required"
	EventRefundCreated               = "refund.created"
	EventRefundSucceeded             = "refund.succeeded"
	EventRefundFailed                = "refund.failed"
	EventRefundReviewRequired        = "refund.review_required"
	EventSubscriptionCreated         = "subscription.created"
	EventSubscriptionUpdated         = "subscription.updated"
	EventSubscriptionCancelled       = "subscription.cancelled"
	EventInvoiceUpdated              = "invoice.updated"
)

// Aggregate types.
const (
	AggregatePaymentIntent = "payment_intent"
	AggregateRefund        = "refund"
	AggregateSubscription  = "subscription"
	AggregateInvoice       = "invoice"
)

// IntentPayload is the body of payment_intent.* events.
type IntentPayload struct {
	PaymentIntentID     string `json:"payment_intent_id"`
	WorkspaceID         string `json:"workspace_id"`
	Provider            string `json:"provider"`
	ProviderReferenceID string `json:"provider_reference_id,omitempty"`
	Status              string `json:"status"`
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	FailureCode         string `json:"failure_code,omitempty"`
	Source              string `json:"source"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p IntentPayload) ToMap() map[string]any {
	payload := map[string]any{
		"payment_intent_id": p.PaymentIntentID,
		"workspace_id":      p.WorkspaceID,
		"provider":          p.Provider,
		"status":            p.Status,
		"amount":            p.Amount,
		"currency":          p.Currency,
		"source":            p.Source,
	}
	if p.ProviderReferenceID != "" {
		payload["provider_reference_id"] = p.ProviderReferenceID
	}
	if p.FailureCode != "" {
		payload["failure_code"] = p.FailureCode
	}
	return payload
}

type RefundPayload struct {
	RefundID        string `json:"refund_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Provider        string `json:"provider"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	FailureCode     string `json:"failure_code,omitempty"`
}

func (p RefundPayload) ToMap() map[string]any {
	payload := map[string]any{
		"refund_id":         p.RefundID,
		"payment_intent_id": p.PaymentIntentID,
		"provider":          p.Provider,
		"status":            p.Status,
		"amount":            p.Amount,
		"currency":          p.Currency,
	}
	if p.FailureCode != "" {
		payload["failure_code"] = p.FailureCode
	}
	return payload
}

type SubscriptionPayload struct {
	SubscriptionID    string `json:"subscription_id"`
	WorkspaceID       string `json:"workspace_id"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func (p SubscriptionPayload) ToMap() map[string]any {
	return map[string]any{
		"subscription_id":      p.SubscriptionID,
		"workspace_id":         p.WorkspaceID,
		"provider":             p.Provider,
		"status":               p.Status,
		"cancel_at_period_end": p.CancelAtPeriodEnd,
	}
}

type InvoicePayload struct {
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Provider       string `json:"provider"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

func (p InvoicePayload) ToMap() map[string]any {
	payload := map[string]any{
		"invoice_id": p.InvoiceID,
		"provider":   p.Provider,
		"status":     p.Status,
		"amount":     p.Amount,
		"currency":   p.Currency,
	}
	if p.SubscriptionID != "" {
		payload["subscription_id"] = p.SubscriptionID
	}
	return payload
}
