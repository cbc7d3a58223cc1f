package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/observability"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaymentService struct {
	paymentdomain.Service

	createIntent       func(req paymentdomain.CreatePaymentIntentRequest) (*paymentdomain.PaymentIntent, error)
	getIntent          func(id string) (*paymentdomain.PaymentIntent, error)
	cancelSubscription func(id string, atPeriodEnd bool) (*paymentdomain.Subscription, error)
}

func (f *fakePaymentService) CreatePaymentIntent(_ context.Context, req paymentdomain.CreatePaymentIntentRequest) (*paymentdomain.PaymentIntent, error) {
	return f.createIntent(req)
}

func (f *fakePaymentService) GetPaymentIntent(_ context.Context, id string) (*paymentdomain.PaymentIntent, error) {
	return f.getIntent(id)
}

func (f *fakePaymentService) CancelSubscription(_ context.Context, id string, atPeriodEnd bool) (*paymentdomain.Subscription, error) {
	return f.cancelSubscription(id, atPeriodEnd)
}

type fakeWebhookHandler struct {
	calls    int
	provider paymentdomain.Provider
	result   *paymentdomain.WebhookResult
	err      error
}

func (f *fakeWebhookHandler) HandleWebhook(_ context.Context, provider paymentdomain.Provider, _ []byte, _ http.Header) (*paymentdomain.WebhookResult, error) {
	f.calls++
	f.provider = provider
	return f.result, f.err
}

type fakeReviewQueue struct {
	limit int
	items []paymentdomain.WebhookDelivery
}

func (f *fakeReviewQueue) ListReviewQueue(_ context.Context, limit int) ([]paymentdomain.WebhookDelivery, error) {
	f.limit = limit
	return f.items, nil
}

func newTestServer(svc *fakePaymentService, hooks *fakeWebhookHandler, reviews *fakeReviewQueue) *Server {
	gin.SetMode(gin.TestMode)
	if svc == nil {
		svc = &fakePaymentService{}
	}
	if hooks == nil {
		hooks = &fakeWebhookHandler{}
	}
	if reviews == nil {
		reviews = &fakeReviewQueue{}
	}
	return NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{Environment: "test"}, nil),
		Cfg:        config.Config{Environment: "test"},
		PaymentSvc: svc,
		Webhooks:   hooks,
		Reviews:    reviews,
	})
}

func serve(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestWebhookAcknowledgesProcessedOutcomes(t *testing.T) {
	for _, outcome := range []paymentdomain.WebhookOutcome{
		paymentdomain.OutcomeApplied,
		paymentdomain.OutcomeIgnoredDuplicate,
		paymentdomain.OutcomeRejectedUnknownReference,
		paymentdomain.OutcomeIgnoredUnsupported,
		paymentdomain.OutcomeQueuedForReview,
	} {
		t.Run(string(outcome), func(t *testing.T) {
			hooks := &fakeWebhookHandler{result: &paymentdomain.WebhookResult{Outcome: outcome}}
			s := newTestServer(nil, hooks, nil)

			w := serve(s, http.MethodPost, "/webhooks/stripe", []byte(`{"id":"evt_1"}`))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), string(outcome))
			assert.Equal(t, paymentdomain.ProviderCard, hooks.provider)
		})
	}
}

func TestWebhookSignatureFailureIsBadRequest(t *testing.T) {
	hooks := &fakeWebhookHandler{
		result: &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeRejectedInvalidSignature},
		err:    &paymentdomain.SignatureError{Provider: paymentdomain.ProviderMobileMoney},
	}
	s := newTestServer(nil, hooks, nil)

	w := serve(s, http.MethodPost, "/webhooks/paystack", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "invalid_signature", payload.Type)
	assert.Equal(t, "invalid_signature", payload.Code)
	assert.Equal(t, paymentdomain.ProviderMobileMoney, hooks.provider)
}

func TestWebhookNotRecordedAsksForRedelivery(t *testing.T) {
	hooks := &fakeWebhookHandler{err: fmt.Errorf("record delivery: %w", paymentdomain.ErrWebhookNotRecorded)}
	s := newTestServer(nil, hooks, nil)

	w := serve(s, http.MethodPost, "/webhooks/flutterwave", []byte(`{"id":1}`))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, "webhook_not_recorded", decodeError(t, w).Code)
}

func TestWebhookUnknownProviderIsNotFound(t *testing.T) {
	hooks := &fakeWebhookHandler{}
	s := newTestServer(nil, hooks, nil)

	w := serve(s, http.MethodPost, "/webhooks/paypal", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, hooks.calls)
}

func TestWebhookBodyCap(t *testing.T) {
	hooks := &fakeWebhookHandler{}
	s := newTestServer(nil, hooks, nil)

	w := serve(s, http.MethodPost, "/webhooks/flutterwave", bytes.Repeat([]byte("a"), maxWebhookBody+1))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, w).Code)
	assert.Zero(t, hooks.calls)
}

func TestCreatePaymentIntentParsesProviderAlias(t *testing.T) {
	var got paymentdomain.CreatePaymentIntentRequest
	svc := &fakePaymentService{
		createIntent: func(req paymentdomain.CreatePaymentIntentRequest) (*paymentdomain.PaymentIntent, error) {
			got = req
			return &paymentdomain.PaymentIntent{ID: "pi_1", Amount: req.Amount, Currency: req.Currency, Provider: req.Provider, Status: paymentdomain.IntentStatusPending}, nil
		},
	}
	s := newTestServer(svc, nil, nil)

	w := serve(s, http.MethodPost, "/v1/payment_intents",
		[]byte(`{"workspace_id":"ws_1","customer_id":"cus_1","amount":5000,"currency":"USD","provider":"stripe"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, paymentdomain.ProviderCard, got.Provider)
	assert.Equal(t, int64(5000), got.Amount)
	assert.Contains(t, w.Body.String(), `"id":"pi_1"`)
}

func TestCreatePaymentIntentRejectsUnknownProvider(t *testing.T) {
	s := newTestServer(&fakePaymentService{}, nil, nil)

	w := serve(s, http.MethodPost, "/v1/payment_intents", []byte(`{"amount":5000,"currency":"USD","provider":"paypal"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "unsupported_provider", payload.Code)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "provider", payload.Errors[0].Field)
}

func TestMalformedJSONIsInvalidRequest(t *testing.T) {
	s := newTestServer(&fakePaymentService{}, nil, nil)

	w := serve(s, http.MethodPost, "/v1/refunds", []byte(`{"amount":`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Code)
}

func TestGetPaymentIntentNotFound(t *testing.T) {
	svc := &fakePaymentService{
		getIntent: func(id string) (*paymentdomain.PaymentIntent, error) {
			return nil, fmt.Errorf("load intent %s: %w", id, paymentdomain.ErrNotFound)
		},
	}
	s := newTestServer(svc, nil, nil)

	w := serve(s, http.MethodGet, "/v1/payment_intents/pi_missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Type)
}

func TestCancelSubscriptionAtPeriodEnd(t *testing.T) {
	var gotID string
	var gotAtPeriodEnd bool
	svc := &fakePaymentService{
		cancelSubscription: func(id string, atPeriodEnd bool) (*paymentdomain.Subscription, error) {
			gotID, gotAtPeriodEnd = id, atPeriodEnd
			return &paymentdomain.Subscription{ID: id, CancelAtPeriodEnd: atPeriodEnd, Status: paymentdomain.SubscriptionStatusActive}, nil
		},
	}
	s := newTestServer(svc, nil, nil)

	w := serve(s, http.MethodPost, "/v1/subscriptions/sub_1/cancel", []byte(`{"at_period_end":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sub_1", gotID)
	assert.True(t, gotAtPeriodEnd)

	w = serve(s, http.MethodPost, "/v1/subscriptions/sub_2/cancel?at_period_end=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sub_2", gotID)
	assert.True(t, gotAtPeriodEnd)

	w = serve(s, http.MethodPost, "/v1/subscriptions/sub_3/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gotAtPeriodEnd)
}

func TestWebhookReviewQueueLimit(t *testing.T) {
	reviews := &fakeReviewQueue{items: []paymentdomain.WebhookDelivery{{Outcome: paymentdomain.OutcomeQueuedForReview, ReviewRequired: true}}}
	s := newTestServer(nil, nil, reviews)

	w := serve(s, http.MethodGet, "/v1/webhooks/review", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultListLimit, reviews.limit)
	assert.Contains(t, w.Body.String(), string(paymentdomain.OutcomeQueuedForReview))

	w = serve(s, http.MethodGet, "/v1/webhooks/review?limit=10000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxListLimit, reviews.limit)

	w = serve(s, http.MethodGet, "/v1/webhooks/review?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsRequiresWorkspace(t *testing.T) {
	s := newTestServer(&fakePaymentService{}, nil, nil)

	w := serve(s, http.MethodGet, "/v1/analytics/summary", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "required", decodeError(t, w).Code)
}

func TestHealthAndFallback(t *testing.T) {
	s := newTestServer(nil, nil, nil)

	w := serve(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "ok"))

	w = serve(s, http.MethodGet, "/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
		code   string
	}{
		{"validation", paymentdomain.NewValidationError("amount", "invalid_amount", "bad"), http.StatusBadRequest, "validation_error", "invalid_amount"},
		{"validation not found", paymentdomain.NewValidationError("id", "not_found", "missing"), http.StatusNotFound, "not_found", "not_found"},
		{"sentinel not found", fmt.Errorf("wrap: %w", paymentdomain.ErrNotFound), http.StatusNotFound, "not_found", "not_found"},
		{"signature", &paymentdomain.SignatureError{}, http.StatusBadRequest, "invalid_signature", "invalid_signature"},
		{"provider", &paymentdomain.ProviderError{Code: "card_declined"}, http.StatusBadGateway, "provider_error", "card_declined"},
		{"provider retryable", fmt.Errorf("create: %w", &paymentdomain.ProviderError{Code: "provider_unavailable", Retryable: true}), http.StatusServiceUnavailable, "provider_error", "provider_unavailable"},
		{"webhook not recorded", fmt.Errorf("%w: %w", paymentdomain.ErrWebhookNotRecorded, paymentdomain.NewValidationError("id", "bad", "bad")), http.StatusServiceUnavailable, "service_unavailable", "webhook_not_recorded"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
			assert.Equal(t, tc.code, payload.Code)

			typ, code := classifyErrorForLog(tc.err)
			assert.Equal(t, tc.typ, typ)
			assert.Equal(t, tc.code, code)
		})
	}
}
