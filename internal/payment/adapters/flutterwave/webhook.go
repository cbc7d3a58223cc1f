package flutterwave

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycore/internal/payment/adapters/transport"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

const SignatureHeader = "Flutterwave-Signature"

// VerifyWebhookSignature checks the base64 HMAC-SHA256 of the raw body keyed
// by the dashboard secret hash.
func (a *Adapter) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(headers.Get(SignatureHeader)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	return transport.EqualSignature(mac.Sum(nil), provided)
}

type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type eventData struct {
	ID             transport.FlexibleID `json:"id"`
	TxRef          string               `json:"tx_ref"`
	Amount         decimal.Decimal      `json:"amount"`
	AmountRefunded decimal.Decimal      `json:"amount_refunded"`
	Currency       string               `json:"currency"`
	Status         string               `json:"status"`
	CreatedAt      string               `json:"created_at"`
}

// ParseWebhookEvent normalizes a Flutterwave event under the dedupe key
// "<event>:<data.id>".
func (a *Adapter) ParseWebhookEvent(payload []byte) (*paymentdomain.NormalizedEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	name := strings.TrimSpace(evt.Event)
	if name == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	switch name {
	case "charge.completed", "subscription.cancelled", "refund.completed":
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
		Currency:   strings.ToUpper(data.Currency),
		OccurredAt: a.now().UTC(),
	}
	if created, err := time.Parse(time.RFC3339, data.CreatedAt); err == nil {
		normalized.OccurredAt = created.UTC()
	}

	amount := data.Amount
	switch name {
	case "charge.completed":
		normalized.ProviderReferenceID = data.TxRef
		status := strings.ToLower(data.Status)
		subscriptionCharge := strings.HasPrefix(data.TxRef, subscriptionRefPrefix)
		switch {
		case status == "successful" && subscriptionCharge:
			normalized.EventType = paymentdomain.EventSubscriptionActivated
		case status == "successful":
			normalized.EventType = paymentdomain.EventIntentSucceeded
		case status == "failed" && !subscriptionCharge:
			normalized.EventType = paymentdomain.EventIntentFailed
			normalized.FailureCode = "charge_failed"
		default:
			return nil, paymentdomain.ErrEventIgnored
		}
	case "subscription.cancelled":
		normalized.EventType = paymentdomain.EventSubscriptionCancelled
		normalized.ProviderReferenceID = data.TxRef
		if normalized.ProviderReferenceID == "" {
			normalized.ProviderReferenceID = data.ID.String()
		}
	case "refund.completed":
		normalized.EventType = paymentdomain.EventRefundCompleted
		normalized.ProviderReferenceID = data.ID.String()
		amount = data.AmountRefunded
	}

	if normalized.Currency != "" && !amount.IsZero() {
		minor, err := a.fromProviderAmount(amount, normalized.Currency)
		if err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		normalized.Amount = minor
	}
	if strings.TrimSpace(normalized.ProviderReferenceID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return normalized, nil
}
