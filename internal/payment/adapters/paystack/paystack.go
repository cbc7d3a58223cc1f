package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paycore/internal/payment/adapters/transport"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

const DefaultBaseURL = "https://api.paystack.co"

// Config configures the mobile money adapter.
type Config struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Now         func() time.Time
}

// Adapter talks to the Paystack API for the MOBILE_MONEY provider. Paystack
// signs webhooks with the API secret key, so one secret serves both.
type Adapter struct {
	client      *transport.Client
	secretKey   string
	callbackURL string
	now         func() time.Time
}

func New(cfg Config) (*Adapter, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
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
			Provider:    paymentdomain.ProviderMobileMoney,
			BaseURL:     baseURL,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
			DecodeError: decodeError,
			Authorize: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+secret)
			},
		}),
		secretKey:   secret,
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		now:         now,
	}, nil
}

func (a *Adapter) Provider() paymentdomain.Provider { return paymentdomain.ProviderMobileMoney }

func (a *Adapter) Capabilities() paymentdomain.Capabilities {
	return paymentdomain.Capabilities{ExplicitConfirm: false, CancelAtPeriodEnd: true, Trials: true}
}

// envelope is the {status, message, data} wrapper on every Paystack response.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type transaction struct {
	ID              transport.FlexibleID `json:"id"`
	Reference       string               `json:"reference"`
	Status          string               `json:"status"`
	Amount          int64                `json:"amount"`
	Currency        string               `json:"currency"`
	GatewayResponse string               `json:"gateway_response"`
}

// CreateIntent initializes a transaction. The merchant reference doubles as
// the provider reference, so a retried initialize with the same key cannot
// create a second transaction.
func (a *Adapter) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.ProviderIntentHandle, error) {
	amount, err := a.toProviderAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, paymentdomain.NewValidationError("email", "email_required", "customer email is required")
	}

	reference := strings.TrimSpace(req.IdempotencyKey)
	if reference == "" {
		reference = ulid.Make().String()
	}
	metadata := map[string]string{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	if req.Reference != "" {
		metadata["payment_intent_id"] = req.Reference
	}

	payload := map[string]any{
		"email":     email,
		"amount":    amount,
		"currency":  strings.ToUpper(req.Currency),
		"reference": reference,
		"metadata":  metadata,
	}
	if a.callbackURL != "" {
		payload["callback_url"] = a.callbackURL
	}
	body, err := transport.JSONBody(payload)
	if err != nil {
		return nil, err
	}

	var out envelope[struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}]
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/transaction/initialize",
		Body:           body,
		ContentType:    "application/json",
		IdempotencyKey: req.IdempotencyKey,
	}, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Data.Reference) == "" {
		return nil, a.client.MissingReference("data.reference")
	}

	return &paymentdomain.ProviderIntentHandle{
		ReferenceID:  out.Data.Reference,
		Status:       paymentdomain.IntentStatusProcessing,
		RedirectURL:  out.Data.AuthorizationURL,
		ClientSecret: out.Data.AccessCode,
	}, nil
}

// ConfirmIntent has no Paystack equivalent; the customer completes payment on
// the hosted page, so confirm degrades to a verify.
func (a *Adapter) ConfirmIntent(ctx context.Context, providerReferenceID, _ string) (*paymentdomain.ProviderStatus, error) {
	return a.VerifyIntent(ctx, providerReferenceID)
}

func (a *Adapter) VerifyIntent(ctx context.Context, providerReferenceID string) (*paymentdomain.ProviderStatus, error) {
	txn, err := a.verify(ctx, providerReferenceID)
	if err != nil {
		return nil, err
	}
	status := &paymentdomain.ProviderStatus{
		ReferenceID: txn.Reference,
		Status:      mapTransactionStatus(txn.Status),
		Amount:      a.fromProviderAmount(txn.Amount),
		Currency:    strings.ToUpper(txn.Currency),
	}
	if status.Status == paymentdomain.IntentStatusFailed {
		status.FailureCode = txn.Status
		status.FailureReason = txn.GatewayResponse
	}
	return status, nil
}

func (a *Adapter) verify(ctx context.Context, reference string) (*transaction, error) {
	var out envelope[transaction]
	if err := a.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/transaction/verify/" + url.PathEscape(reference),
	}, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Data.Reference) == "" {
		return nil, a.client.MissingReference("data.reference")
	}
	return &out.Data, nil
}

// CancelOrRefund refunds a successful transaction. An unpaid transaction
// has nothing captured; abandoning it needs no provider call.
func (a *Adapter) CancelOrRefund(ctx context.Context, req paymentdomain.CancelOrRefundRequest) (*paymentdomain.ProviderRefundHandle, error) {
	txn, err := a.verify(ctx, req.ProviderReferenceID)
	if err != nil {
		return nil, err
	}
	if txn.Status != "success" {
		if req.Amount != nil {
			return nil, a.client.Fail("intent_not_captured", "transaction has not been paid")
		}
		return &paymentdomain.ProviderRefundHandle{
			Kind:   paymentdomain.RefundKindCancellation,
			Status: paymentdomain.RefundStatusSucceeded,
		}, nil
	}

	payload := map[string]any{"transaction": req.ProviderReferenceID}
	if req.Amount != nil {
		amount, err := a.toProviderAmount(*req.Amount)
		if err != nil {
			return nil, err
		}
		payload["amount"] = amount
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		payload["merchant_note"] = reason
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
		Path:           "/refund",
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

type subscription struct {
	SubscriptionCode string     `json:"subscription_code"`
	EmailToken       string     `json:"email_token"`
	Status           string     `json:"status"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
	CreatedAt        *time.Time `json:"createdAt"`
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.ProviderSubscriptionHandle, error) {
	customer := strings.TrimSpace(req.CustomerRef)
	if customer == "" {
		customer = strings.TrimSpace(req.Email)
	}
	payload := map[string]any{
		"customer": customer,
		"plan":     req.PlanRef,
	}
	trialing := req.TrialDays != nil && *req.TrialDays > 0
	if trialing {
		payload["start_date"] = a.now().UTC().AddDate(0, 0, *req.TrialDays).Format(time.RFC3339)
	}
	body, err := transport.JSONBody(payload)
	if err != nil {
		return nil, err
	}

	var out envelope[subscription]
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/subscription",
		Body:           body,
		ContentType:    "application/json",
		IdempotencyKey: req.IdempotencyKey,
	}, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Data.SubscriptionCode) == "" {
		return nil, a.client.MissingReference("data.subscription_code")
	}

	status := mapSubscriptionStatus(out.Data.Status)
	if trialing {
		status = paymentdomain.SubscriptionStatusTrialing
	}
	return &paymentdomain.ProviderSubscriptionHandle{
		SubscriptionID:     out.Data.SubscriptionCode,
		Status:             status,
		CurrentPeriodStart: out.Data.CreatedAt,
		CurrentPeriodEnd:   out.Data.NextPaymentDate,
	}, nil
}

// CancelSubscription disables future charges. Paystack keeps the current
// period paid out either way, so atPeriodEnd does not change the call.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, _ bool) error {
	var current envelope[subscription]
	if err := a.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/subscription/" + url.PathEscape(providerSubscriptionID),
	}, &current); err != nil {
		return err
	}
	if strings.TrimSpace(current.Data.EmailToken) == "" {
		return a.client.MissingReference("data.email_token")
	}

	body, err := transport.JSONBody(map[string]string{
		"code":  providerSubscriptionID,
		"token": current.Data.EmailToken,
	})
	if err != nil {
		return err
	}
	return a.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        "/subscription/disable",
		Body:        body,
		ContentType: "application/json",
	}, nil)
}

func (a *Adapter) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	payload := map[string]string{"email": email}
	if first, last, ok := strings.Cut(strings.TrimSpace(name), " "); ok {
		payload["first_name"] = first
		payload["last_name"] = last
	} else if first != "" {
		payload["first_name"] = first
	}
	body, err := transport.JSONBody(payload)
	if err != nil {
		return "", err
	}
	var out envelope[struct {
		CustomerCode string `json:"customer_code"`
	}]
	if err := a.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        "/customer",
		Body:        body,
		ContentType: "application/json",
	}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Data.CustomerCode) == "" {
		return "", a.client.MissingReference("data.customer_code")
	}
	return out.Data.CustomerCode, nil
}

// AttachPaymentMethod is unsupported: Paystack stores authorizations from a
// completed charge rather than accepting tokenized methods.
func (a *Adapter) AttachPaymentMethod(context.Context, string, string) error {
	return a.client.Fail("unsupported_operation", "paystack does not attach payment methods")
}

func decodeError(_ int, body []byte) (string, string) {
	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Code, payload.Message
}

func mapTransactionStatus(status string) paymentdomain.IntentStatus {
	switch status {
	case "success":
		return paymentdomain.IntentStatusSucceeded
	case "failed", "reversed":
		return paymentdomain.IntentStatusFailed
	default:
		return paymentdomain.IntentStatusProcessing
	}
}

func mapRefundStatus(status string) paymentdomain.RefundStatus {
	switch status {
	case "processed":
		return paymentdomain.RefundStatusSucceeded
	case "failed":
		return paymentdomain.RefundStatusFailed
	case "processing":
		return paymentdomain.RefundStatusProcessing
	default:
		return paymentdomain.RefundStatusPending
	}
}

func mapSubscriptionStatus(status string) paymentdomain.SubscriptionStatus {
	switch status {
	case "active":
		return paymentdomain.SubscriptionStatusActive
	case "attention":
		return paymentdomain.SubscriptionStatusPastDue
	case "cancelled", "complete", "non-renewing":
		return paymentdomain.SubscriptionStatusCancelled
	default:
		return paymentdomain.SubscriptionStatusIncomplete
	}
}
