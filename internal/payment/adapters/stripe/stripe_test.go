package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://stripe.test"

func newTestAdapter(t *testing.T, now time.Time) *Adapter {
	t.Helper()
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	adapter, err := New(Config{
		APIKey:        "sk_test",
		WebhookSecret: "whsec_test",
		BaseURL:       testBaseURL,
		HTTPClient:    httpClient,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	now := time.Now()
	adapter := newTestAdapter(t, now)
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{"id":"pi_abc"}}}`)

	header := http.Header{}
	header.Set(SignatureHeader, buildStripeSignatureHeader("whsec_test", payload, now.Unix()))
	if !adapter.VerifyWebhookSignature(payload, header) {
		t.Fatalf("expected valid signature")
	}

	tampered := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{"id":"pi_xyz"}}}`)
	if adapter.VerifyWebhookSignature(tampered, header) {
		t.Fatalf("expected tampered body to be rejected")
	}

	header.Set(SignatureHeader, buildStripeSignatureHeader("wrong", payload, now.Unix()))
	if adapter.VerifyWebhookSignature(payload, header) {
		t.Fatalf("expected wrong secret to be rejected")
	}

	header.Set(SignatureHeader, buildStripeSignatureHeader("whsec_test", payload, now.Add(-10*time.Minute).Unix()))
	if adapter.VerifyWebhookSignature(payload, header) {
		t.Fatalf("expected stale timestamp to be rejected")
	}

	if adapter.VerifyWebhookSignature(payload, http.Header{}) {
		t.Fatalf("expected missing header to be rejected")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	adapter := newTestAdapter(t, time.Now())
	created := time.Now().Unix()

	tests := []struct {
		name     string
		event    map[string]any
		wantType paymentdomain.EventType
		wantRef  string
	}{
		{
			name: "payment_intent.succeeded",
			event: map[string]any{
				"id": "evt_1", "type": "payment_intent.succeeded", "created": created,
				"data": map[string]any{"object": map[string]any{"id": "pi_abc", "amount": 5000, "currency": "usd"}},
			},
			wantType: paymentdomain.EventIntentSucceeded,
			wantRef:  "pi_abc",
		},
		{
			name: "payment_intent.payment_failed",
			event: map[string]any{
				"id": "evt_2", "type": "payment_intent.payment_failed", "created": created,
				"data": map[string]any{"object": map[string]any{
					"id": "pi_abc", "amount": 5000, "currency": "usd",
					"last_payment_error": map[string]any{"code": "card_declined"},
				}},
			},
			wantType: paymentdomain.EventIntentFailed,
			wantRef:  "pi_abc",
		},
		{
			name: "customer.subscription.updated active",
			event: map[string]any{
				"id": "evt_3", "type": "customer.subscription.updated", "created": created,
				"data": map[string]any{"object": map[string]any{"id": "sub_1", "status": "active"}},
			},
			wantType: paymentdomain.EventSubscriptionActivated,
			wantRef:  "sub_1",
		},
		{
			name: "customer.subscription.deleted",
			event: map[string]any{
				"id": "evt_4", "type": "customer.subscription.deleted", "created": created,
				"data": map[string]any{"object": map[string]any{"id": "sub_1", "status": "canceled"}},
			},
			wantType: paymentdomain.EventSubscriptionCancelled,
			wantRef:  "sub_1",
		},
		{
			name: "refund.updated",
			event: map[string]any{
				"id": "evt_5", "type": "refund.updated", "created": created,
				"data": map[string]any{"object": map[string]any{"id": "re_1", "status": "succeeded", "amount": 2000, "currency": "usd"}},
			},
			wantType: paymentdomain.EventRefundCompleted,
			wantRef:  "re_1",
		},
		{
			name: "invoice.payment_failed",
			event: map[string]any{
				"id": "evt_6", "type": "invoice.payment_failed", "created": created,
				"data": map[string]any{"object": map[string]any{"id": "in_1", "subscription": "sub_1", "amount_due": 900, "currency": "usd"}},
			},
			wantType: paymentdomain.EventInvoicePaymentFailed,
			wantRef:  "in_1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := json.Marshal(tc.event)
			require.NoError(t, err)
			evt, err := adapter.ParseWebhookEvent(payload)
			require.NoError(t, err)
			assert.Equal(t, tc.event["id"], evt.EventID)
			assert.Equal(t, tc.wantType, evt.EventType)
			assert.Equal(t, tc.wantRef, evt.ProviderReferenceID)
		})
	}

	t.Run("unsupported type is ignored", func(t *testing.T) {
		_, err := adapter.ParseWebhookEvent([]byte(`{"id":"evt_9","type":"charge.dispute.created","data":{"object":{}}}`))
		assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	})

	t.Run("pending refund is ignored", func(t *testing.T) {
		_, err := adapter.ParseWebhookEvent([]byte(`{"id":"evt_10","type":"refund.created","data":{"object":{"id":"re_2","status":"pending"}}}`))
		assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := adapter.ParseWebhookEvent([]byte(`not-json`))
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
	})
}

func TestCreateIntent(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t, time.Now())

	gock.New(testBaseURL).
		Post("/v1/payment_intents").
		MatchHeader("Authorization", "Bearer sk_test").
		MatchHeader("Idempotency-Key", "idem-1").
		Reply(200).
		JSON(map[string]any{"id": "pi_abc", "status": "requires_payment_method", "client_secret": "pi_abc_secret"})

	handle, err := adapter.CreateIntent(context.Background(), paymentdomain.CreateIntentRequest{
		Amount:         5000,
		Currency:       "USD",
		CustomerRef:    "cus_1",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", handle.ReferenceID)
	assert.Equal(t, paymentdomain.IntentStatusProcessing, handle.Status)
	assert.Equal(t, "pi_abc_secret", handle.ClientSecret)
	assert.True(t, gock.IsDone())
}

func TestCreateIntentFailures(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t, time.Now())
	ctx := context.Background()
	req := paymentdomain.CreateIntentRequest{Amount: 5000, Currency: "USD"}

	t.Run("missing id fails closed", func(t *testing.T) {
		gock.New(testBaseURL).Post("/v1/payment_intents").Reply(200).JSON(map[string]any{"status": "requires_payment_method"})
		_, err := adapter.CreateIntent(ctx, req)
		var perr *paymentdomain.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "missing_reference", perr.Code)
		assert.False(t, perr.Retryable)
	})

	t.Run("server error is retryable", func(t *testing.T) {
		gock.New(testBaseURL).Post("/v1/payment_intents").Reply(503).JSON(map[string]any{"error": map[string]any{"type": "api_error", "message": "down"}})
		_, err := adapter.CreateIntent(ctx, req)
		var perr *paymentdomain.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.True(t, perr.Retryable)
		assert.Equal(t, 503, perr.StatusCode)
	})

	t.Run("card error is not retryable", func(t *testing.T) {
		gock.New(testBaseURL).Post("/v1/payment_intents").Reply(402).JSON(map[string]any{"error": map[string]any{"code": "card_declined", "message": "declined"}})
		_, err := adapter.CreateIntent(ctx, req)
		var perr *paymentdomain.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.False(t, perr.Retryable)
		assert.Equal(t, "card_declined", perr.Code)
	})

	t.Run("amount above limit", func(t *testing.T) {
		_, err := adapter.CreateIntent(ctx, paymentdomain.CreateIntentRequest{Amount: maxAmount + 1, Currency: "USD"})
		var verr *paymentdomain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "amount_out_of_range", verr.Code)
	})
}

func TestCancelOrRefund(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t, time.Now())
	ctx := context.Background()

	t.Run("captured intent is refunded", func(t *testing.T) {
		gock.New(testBaseURL).Get("/v1/payment_intents/pi_abc").Reply(200).JSON(map[string]any{"id": "pi_abc", "status": "succeeded"})
		gock.New(testBaseURL).Post("/v1/refunds").Reply(200).JSON(map[string]any{"id": "re_1", "status": "pending"})

		amount := int64(2000)
		handle, err := adapter.CancelOrRefund(ctx, paymentdomain.CancelOrRefundRequest{ProviderReferenceID: "pi_abc", Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.RefundKindRefund, handle.Kind)
		assert.Equal(t, "re_1", handle.RefundID)
		assert.Equal(t, paymentdomain.RefundStatusPending, handle.Status)
	})

	t.Run("uncaptured intent is cancelled", func(t *testing.T) {
		gock.New(testBaseURL).Get("/v1/payment_intents/pi_def").Reply(200).JSON(map[string]any{"id": "pi_def", "status": "requires_payment_method"})
		gock.New(testBaseURL).Post("/v1/payment_intents/pi_def/cancel").Reply(200).JSON(map[string]any{"id": "pi_def", "status": "canceled"})

		handle, err := adapter.CancelOrRefund(ctx, paymentdomain.CancelOrRefundRequest{ProviderReferenceID: "pi_def"})
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.RefundKindCancellation, handle.Kind)
	})

	assert.True(t, gock.IsDone())
}

func TestAmountRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t, time.Now())
	for _, amount := range []int64{1, 5000, 123_456, maxAmount} {
		wire, err := adapter.toProviderAmount(amount)
		require.NoError(t, err)
		assert.Equal(t, amount, adapter.fromProviderAmount(wire))
	}
}
