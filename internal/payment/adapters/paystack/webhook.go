package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/paycore/internal/payment/adapters/transport"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

const SignatureHeader = "X-Paystack-Signature"

// VerifyWebhookSignature checks the hex HMAC-SHA512 of the raw body keyed by
// the secret key.
func (a *Adapter) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(headers.Get(SignatureHeader)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(a.secretKey))
	_, _ = mac.Write(payload)
	return transport.EqualSignature(mac.Sum(nil), provided)
}

type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type eventData struct {
	ID                   transport.FlexibleID `json:"id"`
	Reference            string               `json:"reference"`
	Status               string               `json:"status"`
	Amount               int64                `json:"amount"`
	Currency             string               `json:"currency"`
	GatewayResponse      string               `json:"gateway_response"`
	PaidAt               *time.Time           `json:"paid_at"`
	SubscriptionCode     string               `json:"subscription_code"`
	NextPaymentDate      *time.Time           `json:"next_payment_date"`
	TransactionReference string               `json:"transaction_reference"`
	CreatedAt            *time.Time           `json:"createdAt"`
}

// ParseWebhookEvent normalizes a Paystack event. Paystack carries no event
// id, so the dedupe key is "<event>:<data.id>".
func (a *Adapter) ParseWebhookEvent(payload []byte) (*paymentdomain.NormalizedEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	name := strings.TrimSpace(evt.Event)
	if name == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType paymentdomain.EventType
	switch name {
	case "charge.success":
		eventType = paymentdomain.EventIntentSucceeded
	case "charge.failed":
		eventType = paymentdomain.EventIntentFailed
	case "subscription.create":
		eventType = paymentdomain.EventSubscriptionActivated
	case "subscription.disable":
		eventType = paymentdomain.EventSubscriptionCancelled
	case "refund.processed":
		eventType = paymentdomain.EventRefundCompleted
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var data eventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if data.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	normalized := &paymentdomain.NormalizedEvent{
		EventID:    name + ":" + data.ID.String(),
		EventType:  eventType,
		Amount:     a.fromProviderAmount(data.Amount),
		Currency:   strings.ToUpper(data.Currency),
		OccurredAt: a.now().UTC(),
	}

	switch eventType {
	case paymentdomain.EventIntentSucceeded, paymentdomain.EventIntentFailed:
		normalized.ProviderReferenceID = data.Reference
		if data.PaidAt != nil {
			normalized.OccurredAt = data.PaidAt.UTC()
		}
		if eventType == paymentdomain.EventIntentFailed {
			normalized.FailureCode = "charge_failed"
		}
	case paymentdomain.EventSubscriptionActivated, paymentdomain.EventSubscriptionCancelled:
		normalized.ProviderReferenceID = data.SubscriptionCode
		normalized.PeriodStart = data.CreatedAt
		normalized.PeriodEnd = data.NextPaymentDate
	case paymentdomain.EventRefundCompleted:
		normalized.ProviderReferenceID = data.ID.String()
	}

	if strings.TrimSpace(normalized.ProviderReferenceID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return normalized, nil
}
