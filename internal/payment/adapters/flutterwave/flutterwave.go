package flutterwave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycore/internal/payment/adapters/transport"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

const (
	DefaultBaseURL = "https://api.flutterwave.com/v3"

	// subscriptionRefPrefix marks tx_refs created for plan checkouts so the
	// charge webhook can be routed to the subscription.
	subscriptionRefPrefix = "sub_"
)

// Config configures the multi-rail adapter.
type Config struct {
	SecretKey string
	// WebhookSecret is the secret hash configured on the dashboard.
	WebhookSecret string
	BaseURL       string
	RedirectURL   string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Now           func() time.Time
}

// Adapter talks to the Flutterwave v3 API for the MULTI_RAIL provider.
type Adapter struct {
	client        *transport.Client
	webhookSecret string
	redirectURL   string
	now           func() time.Time
}

func New(cfg Config) (*Adapter, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" || strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		client: transport.NewClient(transport.ClientConfig{
			Provider:    paymentdomain.ProviderMultiRail,
			BaseURL:     baseURL,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
			DecodeError: decodeError,
			Authorize: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+secret)
			},
		}),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		redirectURL:   strings.TrimSpace(cfg.RedirectURL),
		now:           now,
	}, nil
}

func (a *Adapter) Provider() paymentdomain.Provider { return paymentdomain.ProviderMultiRail }

func (a *Adapter) Capabilities() paymentdomain.Capabilities {
	return paymentdomain.Capabilities{ExplicitConfirm: false, CancelAtPeriodEnd: false, Trials: false}
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type transaction struct {
	ID                transport.FlexibleID `json:"id"`
	TxRef             string               `json:"tx_ref"`
	FlwRef            string               `json:"flw_ref"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency"`
	Status            string               `json:"status"`
	ProcessorResponse string               `json:"processor_response"`
}

type checkoutRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      json.Number       `json:"amount,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	PaymentPlan string            `json:"payment_plan,omitempty"`
	Customer    checkoutCustomer  `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type checkoutCustomer struct {
	Email string `json:"email"`
}

// CreateIntent opens a hosted checkout. The tx_ref is the provider
// reference and stays stable across retries of the same intent.
func (a *Adapter) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.ProviderIntentHandle, error) {
	amount, err := a.toProviderAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = strings.TrimSpace(req.CustomerRef)
	}
	if email == "" {
		return nil, paymentdomain.NewValidationError("email", "email_required", "customer email is required")
	}

	txRef := strings.TrimSpace(req.IdempotencyKey)
	if txRef == "" {
		txRef = ulid.Make().String()
	}
	meta := map[string]string{}
	for key, value := range req.Metadata {
		meta[key] = value
	}
	if req.Reference != "" {
		meta["payment_intent_id"] = req.Reference
	}

	link, err := a.checkout(ctx, checkoutRequest{
		TxRef:       txRef,
		Amount:      json.Number(amount.String()),
		Currency:    strings.ToUpper(req.Currency),
		RedirectURL: a.redirectURL,
		Customer:    checkoutCustomer{Email: email},
		Meta:        meta,
	}, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.ProviderIntentHandle{
		ReferenceID: txRef,
		Status:      paymentdomain.IntentStatusProcessing,
		RedirectURL: link,
	}, nil
}

func (a *Adapter) checkout(ctx context.Context, payload checkoutRequest, idempotencyKey string) (string, error) {
	body, err := transport.JSONBody(payload)
	if err != nil {
		return "", err
	}
	var out envelope[struct {
		Link string `json:"link"`
	}]
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/payments",
		Body:           body,
		ContentType:    "application/json",
		IdempotencyKey: idempotencyKey,
	}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Data.Link) == "" {
		return "", a.client.MissingReference("data.link")
	}
	return out.Data.Link, nil
}

// ConfirmIntent degrades to a verify; payment completes on the hosted page.
func (a *Adapter) ConfirmIntent(ctx context.Context, providerReferenceID, _ string) (*paymentdomain.ProviderStatus, error) {
	return a.VerifyIntent(ctx, providerReferenceID)
}

func (a *Adapter) VerifyIntent(ctx context.Context, providerReferenceID string) (*paymentdomain.ProviderStatus, error) {
	txn, err := a.verify(ctx, providerReferenceID)
	if err != nil {
		return nil, err
	}
	amount, err := a.fromProviderAmount(txn.Amount, txn.Currency)
	if err != nil {
		return nil, err
	}
	status := &paymentdomain.ProviderStatus{
		ReferenceID: txn.TxRef,
		Status:      mapTransactionStatus(txn.Status),
		Amount:      amount,
		Currency:    strings.ToUpper(txn.Currency),
	}
	if status.Status == paymentdomain.IntentStatusFailed {
		status.FailureCode = "charge_failed"
		status.FailureReason = txn.ProcessorResponse
	}
	return status, nil
}

func (a *Adapter) verify(ctx context.Context, txRef string) (*transaction, error) {
	var out envelope[transaction]
	if err := a.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/transactions/verify_by_reference",
		Query:  map[string]string{"tx_ref": txRef},
	}, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" || strings.TrimSpace(out.Data.TxRef) == "" {
		return nil, a.client.MissingReference("data.id")
	}
	return &out.Data, nil
}

// CancelOrRefund refunds a successful charge. A checkout that was never
// paid needs no provider call to abandon.
func (a *Adapter) CancelOrRefund(ctx context.Context, req paymentdomain.CancelOrRefundRequest) (*paymentdomain.ProviderRefundHandle, error) {
	txn, err := a.verify(ctx, req.ProviderReferenceID)
	if err != nil {
		return nil, err
	}
	if txn.Status != "successful" {
		if req.Amount != nil {
			return nil, a.client.Fail("intent_not_captured", "transaction has not been paid")
		}
		return &paymentdomain.ProviderRefundHandle{
			Kind:   paymentdomain.RefundKindCancellation,
			Status: paymentdomain.RefundStatusSucceeded,
		}, nil
	}

	payload := map[string]any{}
	if req.Amount != nil {
		currency := req.Currency
		if currency == "" {
			currency = txn.Currency
		}
		amount, err := a.toProviderAmount(*req.Amount, currency)
		if err != nil {
			return nil, err
		}
		payload["amount"] = json.Number(amount.String())
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		payload["comments"] = reason
	}
	body, err := transport.JSONBody(payload)
	if err != nil {
		return nil, err
	}

	var out envelope[struct {
		ID     transport.FlexibleID `json:"id"`
		Status string               `json:"status"`
	}]
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/transactions/" + url.PathEscape(txn.ID.String()) + "/refund",
		Body:           body,
		ContentType:    "application/json",
		IdempotencyKey: req.IdempotencyKey,
	}, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, a.client.MissingReference("data.id")
	}
	return &paymentdomain.ProviderRefundHandle{
		Kind:     paymentdomain.RefundKindRefund,
		RefundID: out.Data.ID.String(),
		Status:   mapRefundStatus(out.Data.Status),
	}, nil
}

// CreateSubscription starts a plan checkout. The subscription only exists
// at the provider after the first charge, so it is keyed by the checkout
// tx_ref and starts INCOMPLETE.
func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.ProviderSubscriptionHandle, error) {
	if req.TrialDays != nil && *req.TrialDays > 0 {
		return nil, paymentdomain.NewValidationError("trial_days", "trial_not_supported", "flutterwave plans do not support trials")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = strings.TrimSpace(req.CustomerRef)
	}
	if email == "" {
		return nil, paymentdomain.NewValidationError("email", "email_required", "customer email is required")
	}

	txRef := subscriptionRefPrefix + ulid.Make().String()
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		txRef = subscriptionRefPrefix + key
	}
	meta := map[string]string{}
	if req.Reference != "" {
		meta["subscription_id"] = req.Reference
	}

	link, err := a.checkout(ctx, checkoutRequest{
		TxRef:       txRef,
		RedirectURL: a.redirectURL,
		PaymentPlan: req.PlanRef,
		Customer:    checkoutCustomer{Email: email},
		Meta:        meta,
	}, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.ProviderSubscriptionHandle{
		SubscriptionID: txRef,
		Status:         paymentdomain.SubscriptionStatusIncomplete,
		RedirectURL:    link,
	}, nil
}

// CancelSubscription resolves the provider subscription created by the
// checkout charge and cancels it immediately.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		return a.client.Fail("unsupported_operation", "flutterwave cancels subscriptions immediately")
	}
	txn, err := a.verify(ctx, providerSubscriptionID)
	if err != nil {
		return err
	}

	var subs envelope[[]struct {
		ID     transport.FlexibleID `json:"id"`
		Status string               `json:"status"`
	}]
	if err := a.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/subscriptions",
		Query:  map[string]string{"transaction_id": txn.ID.String()},
	}, &subs); err != nil {
		return err
	}
	if len(subs.Data) == 0 || subs.Data[0].ID == "" {
		return a.client.MissingReference("data[0].id")
	}

	return a.client.Do(ctx, transport.Request{
		Method: http.MethodPut,
		Path:   "/subscriptions/" + url.PathEscape(subs.Data[0].ID.String()) + "/cancel",
	}, nil)
}

// CreateCustomer has no remote counterpart; Flutterwave identifies
// customers by email on each checkout.
func (a *Adapter) CreateCustomer(_ context.Context, email, _ string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", paymentdomain.NewValidationError("email", "email_required", "customer email is required")
	}
	return email, nil
}

func (a *Adapter) AttachPaymentMethod(context.Context, string, string) error {
	return a.client.Fail("unsupported_operation", "flutterwave does not attach payment methods")
}

func decodeError(_ int, body []byte) (string, string) {
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return "", payload.Message
}

func mapTransactionStatus(status string) paymentdomain.IntentStatus {
	switch strings.ToLower(status) {
	case "successful":
		return paymentdomain.IntentStatusSucceeded
	case "failed", "cancelled":
		return paymentdomain.IntentStatusFailed
	default:
		return paymentdomain.IntentStatusProcessing
	}
}

func mapRefundStatus(status string) paymentdomain.RefundStatus {
	switch strings.ToLower(status) {
	case "completed", "successful":
		return paymentdomain.RefundStatusSucceeded
	case "failed":
		return paymentdomain.RefundStatusFailed
	default:
		return paymentdomain.RefundStatusPending
	}
}
