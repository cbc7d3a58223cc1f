package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paycore/internal/payment/adapters/transport"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

const SignatureHeader = "Stripe-Signature"

// VerifyWebhookSignature checks the v1 HMAC-SHA256 over "timestamp.body"
// and rejects timestamps outside the tolerance window.
func (a *Adapter) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return false
	}

	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := a.now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if age > a.tolerance {
		return false
	}

	expected := computeSignature(a.webhookSecret, ts, payload)
	for _, signature := range signatures {
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			continue
		}
		if transport.EqualSignature(expected, decoded) {
			return true
		}
	}
	return false
}

func computeSignature(secret, ts string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (string, []string, error) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "t":
			ts = strings.TrimSpace(keyValue[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(keyValue[1]))
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *Adapter) ParseWebhookEvent(payload []byte) (*paymentdomain.NormalizedEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	occurredAt := time.Unix(evt.Created, 0).UTC()

	switch strings.TrimSpace(evt.Type) {
	case "payment_intent.succeeded":
		return a.parseIntent(evt, paymentdomain.EventIntentSucceeded, occurredAt)
	case "payment_intent.payment_failed":
		return a.parseIntent(evt, paymentdomain.EventIntentFailed, occurredAt)
	case "customer.subscription.created", "customer.subscription.updated":
		return a.parseSubscription(evt, occurredAt)
	case "customer.subscription.deleted":
		var sub subscription
		if err := json.Unmarshal(evt.Data.Object, &sub); err != nil || sub.ID == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		return &paymentdomain.NormalizedEvent{
			EventID:             evt.ID,
			EventType:           paymentdomain.EventSubscriptionCancelled,
			ProviderReferenceID: sub.ID,
			OccurredAt:          occurredAt,
		}, nil
	case "refund.created", "refund.updated", "charge.refund.updated":
		var out struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.Unmarshal(evt.Data.Object, &out); err != nil || out.ID == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if out.Status != "succeeded" {
			return nil, paymentdomain.ErrEventIgnored
		}
		return &paymentdomain.NormalizedEvent{
			EventID:             evt.ID,
			EventType:           paymentdomain.EventRefundCompleted,
			ProviderReferenceID: out.ID,
			Amount:              a.fromProviderAmount(out.Amount),
			Currency:            strings.ToUpper(out.Currency),
			OccurredAt:          occurredAt,
		}, nil
	case "invoice.paid", "invoice.payment_failed":
		return a.parseInvoice(evt, occurredAt)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) parseIntent(evt event, eventType paymentdomain.EventType, occurredAt time.Time) (*paymentdomain.NormalizedEvent, error) {
	var intent paymentIntent
	if err := json.Unmarshal(evt.Data.Object, &intent); err != nil || intent.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	normalized := &paymentdomain.NormalizedEvent{
		EventID:             evt.ID,
		EventType:           eventType,
		ProviderReferenceID: intent.ID,
		Amount:              a.fromProviderAmount(intent.Amount),
		Currency:            strings.ToUpper(intent.Currency),
		OccurredAt:          occurredAt,
	}
	if intent.LastPaymentError != nil {
		normalized.FailureCode = intent.LastPaymentError.Code
	}
	return normalized, nil
}

func (a *Adapter) parseSubscription(evt event, occurredAt time.Time) (*paymentdomain.NormalizedEvent, error) {
	var sub subscription
	if err := json.Unmarshal(evt.Data.Object, &sub); err != nil || sub.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	var eventType paymentdomain.EventType
	switch sub.Status {
	case "active":
		eventType = paymentdomain.EventSubscriptionActivated
	case "canceled":
		eventType = paymentdomain.EventSubscriptionCancelled
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
	return &paymentdomain.NormalizedEvent{
		EventID:             evt.ID,
		EventType:           eventType,
		ProviderReferenceID: sub.ID,
		PeriodStart:         unixPtr(sub.CurrentPeriodStart),
		PeriodEnd:           unixPtr(sub.CurrentPeriodEnd),
		OccurredAt:          occurredAt,
	}, nil
}

func (a *Adapter) parseInvoice(evt event, occurredAt time.Time) (*paymentdomain.NormalizedEvent, error) {
	var inv struct {
		ID           string `json:"id"`
		Subscription string `json:"subscription"`
		AmountDue    int64  `json:"amount_due"`
		AmountPaid   int64  `json:"amount_paid"`
		Currency     string `json:"currency"`
	}
	if err := json.Unmarshal(evt.Data.Object, &inv); err != nil || inv.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	normalized := &paymentdomain.NormalizedEvent{
		EventID:              evt.ID,
		ProviderReferenceID:  inv.ID,
		ProviderSubscription: inv.Subscription,
		Currency:             strings.ToUpper(inv.Currency),
		OccurredAt:           occurredAt,
	}
	if evt.Type == "invoice.paid" {
		normalized.EventType = paymentdomain.EventInvoicePaid
		normalized.Amount = a.fromProviderAmount(inv.AmountPaid)
	} else {
		normalized.EventType = paymentdomain.EventInvoicePaymentFailed
		normalized.Amount = a.fromProviderAmount(inv.AmountDue)
	}
	return normalized, nil
}
