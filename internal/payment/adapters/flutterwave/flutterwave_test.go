package flutterwave

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://flutterwave.test"

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	adapter, err := New(Config{
		SecretKey:     "FLWSECK_TEST",
		WebhookSecret: "secret-hash",
		BaseURL:       testBaseURL,
		RedirectURL:   "https://merchant.test/return",
		HTTPClient:    httpClient,
		Now:           func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return adapter
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	adapter := newTestAdapter(t)
	payloads := [][]byte{
		[]byte(`{"event":"charge.completed","data":{"id":285959875,"tx_ref":"ref_1","amount":50,"currency":"NGN","status":"successful"}}`),
		[]byte(`{"event":"subscription.cancelled","data":{"id":4147,"status":"cancelled"}}`),
		[]byte(`{"event":"refund.completed","data":{"id":75923,"amount_refunded":20,"currency":"NGN","status":"completed"}}`),
	}

	for _, payload := range payloads {
		header := http.Header{}
		header.Set(SignatureHeader, sign("secret-hash", payload))
		assert.True(t, adapter.VerifyWebhookSignature(payload, header))

		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = ' '
		assert.False(t, adapter.VerifyWebhookSignature(tampered, header))

		header.Set(SignatureHeader, sign("other-hash", payload))
		assert.False(t, adapter.VerifyWebhookSignature(payload, header))
	}

	header := http.Header{}
	header.Set(SignatureHeader, "%%%")
	assert.False(t, adapter.VerifyWebhookSignature(payloads[0], header))
}

func TestParseWebhookEvent(t *testing.T) {
	adapter := newTestAdapter(t)

	tests := []struct {
		name       string
		payload    string
		wantID     string
		wantType   paymentdomain.EventType
		wantRef    string
		wantAmount int64
	}{
		{
			name:       "successful charge",
			payload:    `{"event":"charge.completed","data":{"id":285959875,"tx_ref":"ref_1","amount":50,"currency":"NGN","status":"successful"}}`,
			wantID:     "charge.completed:285959875",
			wantType:   paymentdomain.EventIntentSucceeded,
			wantRef:    "ref_1",
			wantAmount: 5000,
		},
		{
			name:       "failed charge",
			payload:    `{"event":"charge.completed","data":{"id":285959876,"tx_ref":"ref_2","amount":"12.5","currency":"USD","status":"failed"}}`,
			wantID:     "charge.completed:285959876",
			wantType:   paymentdomain.EventIntentFailed,
			wantRef:    "ref_2",
			wantAmount: 1250,
		},
		{
			name:       "subscription checkout charge",
			payload:    `{"event":"charge.completed","data":{"id":285959877,"tx_ref":"sub_01J0","amount":1500,"currency":"UGX","status":"successful"}}`,
			wantID:     "charge.completed:285959877",
			wantType:   paymentdomain.EventSubscriptionActivated,
			wantRef:    "sub_01J0",
			wantAmount: 1500,
		},
		{
			name:     "subscription cancelled",
			payload:  `{"event":"subscription.cancelled","data":{"id":4147,"tx_ref":"sub_01J0","status":"cancelled"}}`,
			wantID:   "subscription.cancelled:4147",
			wantType: paymentdomain.EventSubscriptionCancelled,
			wantRef:  "sub_01J0",
		},
		{
			name:       "refund completed",
			payload:    `{"event":"refund.completed","data":{"id":75923,"amount_refunded":20,"currency":"NGN","status":"completed"}}`,
			wantID:     "refund.completed:75923",
			wantType:   paymentdomain.EventRefundCompleted,
			wantRef:    "75923",
			wantAmount: 2000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := adapter.ParseWebhookEvent([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, evt.EventID)
			assert.Equal(t, tc.wantType, evt.EventType)
			assert.Equal(t, tc.wantRef, evt.ProviderReferenceID)
			assert.Equal(t, tc.wantAmount, evt.Amount)
		})
	}

	t.Run("pending charge is ignored", func(t *testing.T) {
		_, err := adapter.ParseWebhookEvent([]byte(`{"event":"charge.completed","data":{"id":1,"tx_ref":"ref_3","status":"pending"}}`))
		assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	})

	t.Run("transfer events are ignored", func(t *testing.T) {
		_, err := adapter.ParseWebhookEvent([]byte(`{"event":"transfer.completed","data":{"id":1}}`))
		assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	})
}

func TestCreateIntent(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t)

	gock.New(testBaseURL).
		Post("/payments").
		MatchHeader("Authorization", "Bearer FLWSECK_TEST").
		Reply(200).
		JSON(map[string]any{"status": "success", "data": map[string]any{"link": "https://checkout.flutterwave.com/v3/hosted/pay/abc"}})

	handle, err := adapter.CreateIntent(context.Background(), paymentdomain.CreateIntentRequest{
		Amount:         5000,
		Currency:       "NGN",
		Email:          "ada@example.com",
		IdempotencyKey: "intent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "intent-1", handle.ReferenceID)
	assert.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc", handle.RedirectURL)
	assert.True(t, gock.IsDone())
}

func TestCreateIntentMissingLink(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t)

	gock.New(testBaseURL).Post("/payments").Reply(200).JSON(map[string]any{"status": "success", "data": map[string]any{}})

	_, err := adapter.CreateIntent(context.Background(), paymentdomain.CreateIntentRequest{
		Amount: 5000, Currency: "NGN", Email: "ada@example.com",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrMissingReference)
}

func TestVerifyIntent(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t)

	gock.New(testBaseURL).
		Get("/transactions/verify_by_reference").
		MatchParam("tx_ref", "ref_1").
		Reply(200).
		JSON(map[string]any{"status": "success", "data": map[string]any{
			"id": 285959875, "tx_ref": "ref_1", "amount": 50, "currency": "NGN", "status": "successful",
		}})

	status, err := adapter.VerifyIntent(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusSucceeded, status.Status)
	assert.Equal(t, int64(5000), status.Amount)
	assert.Equal(t, "NGN", status.Currency)
}

func TestCancelOrRefund(t *testing.T) {
	defer gock.Off()
	adapter := newTestAdapter(t)

	gock.New(testBaseURL).
		Get("/transactions/verify_by_reference").
		MatchParam("tx_ref", "ref_1").
		Reply(200).
		JSON(map[string]any{"status": "success", "data": map[string]any{
			"id": 285959875, "tx_ref": "ref_1", "amount": 50, "currency": "NGN", "status": "successful",
		}})
	gock.New(testBaseURL).
		Post("/transactions/285959875/refund").
		Reply(200).
		JSON(map[string]any{"status": "success", "data": map[string]any{"id": 75923, "status": "completed"}})

	amount := int64(2000)
	handle, err := adapter.CancelOrRefund(context.Background(), paymentdomain.CancelOrRefundRequest{
		ProviderReferenceID: "ref_1",
		Amount:              &amount,
		Currency:            "NGN",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundKindRefund, handle.Kind)
	assert.Equal(t, "75923", handle.RefundID)
	assert.Equal(t, paymentdomain.RefundStatusSucceeded, handle.Status)
	assert.True(t, gock.IsDone())
}

func TestCreateSubscriptionRejectsTrials(t *testing.T) {
	adapter := newTestAdapter(t)
	days := 7
	_, err := adapter.CreateSubscription(context.Background(), paymentdomain.CreateSubscriptionRequest{
		Email: "ada@example.com", PlanRef: "3807", TrialDays: &days,
	})
	assert.Equal(t, "trial_not_supported", paymentdomain.ErrorCode(err))
}

func TestAmountRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t)

	tests := []struct {
		amount   int64
		currency string
		major    string
	}{
		{amount: 1, currency: "USD", major: "0.01"},
		{amount: 5000, currency: "NGN", major: "50"},
		{amount: 1500, currency: "UGX", major: "1500"},
		{amount: 1234, currency: "KWD", major: "1.234"},
		{amount: 9_999_999_999, currency: "NGN", major: "99999999.99"},
	}
	for _, tc := range tests {
		wire, err := adapter.toProviderAmount(tc.amount, tc.currency)
		require.NoError(t, err)
		assert.True(t, wire.Equal(decimal.RequireFromString(tc.major)), "%s %d -> %s", tc.currency, tc.amount, wire)

		back, err := adapter.fromProviderAmount(wire, tc.currency)
		require.NoError(t, err)
		assert.Equal(t, tc.amount, back)
	}

	_, err := adapter.toProviderAmount(10_000_000_001, "NGN")
	assert.Equal(t, "amount_out_of_range", paymentdomain.ErrorCode(err))

	_, err = adapter.fromProviderAmount(decimal.RequireFromString("10.001"), "USD")
	assert.Equal(t, "invalid_amount", paymentdomain.ErrorCode(err))
}
