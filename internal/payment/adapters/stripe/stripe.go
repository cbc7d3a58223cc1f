package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paycore/internal/payment/adapters/transport"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

const (
	DefaultBaseURL = "https://api.stripe.com"
	formEncoded    = "application/x-www-form-urlencoded"
)

// Config configures the card processor adapter.
type Config struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
	// SignatureTolerance bounds the age of a webhook timestamp.
	SignatureTolerance time.Duration
	Now                func() time.Time
}

// Adapter talks to the Stripe API for the CARD provider.
type Adapter struct {
	client        *transport.Client
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	return &Adapter{
		client: transport.NewClient(transport.ClientConfig{
			Provider:    paymentdomain.ProviderCard,
			BaseURL:     baseURL,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
			DecodeError: decodeError,
			Authorize: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+apiKey)
			},
		}),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		now:           now,
	}, nil
}

func (a *Adapter) Provider() paymentdomain.Provider { return paymentdomain.ProviderCard }

func (a *Adapter) Capabilities() paymentdomain.Capabilities {
	return paymentdomain.Capabilities{ExplicitConfirm: true, CancelAtPeriodEnd: true, Trials: true}
}

type paymentIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ClientSecret     string `json:"client_secret"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (a *Adapter) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.ProviderIntentHandle, error) {
	amount, err := a.toProviderAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if ref := strings.TrimSpace(req.CustomerRef); ref != "" {
		form.Set("customer", ref)
	}
	for key, value := range req.Metadata {
		form.Set("metadata["+key+"]", value)
	}
	if req.Reference != "" {
		form.Set("metadata[payment_intent_id]", req.Reference)
	}

	var intent paymentIntent
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v1/payment_intents",
		Body:           strings.NewReader(form.Encode()),
		ContentType:    formEncoded,
		IdempotencyKey: req.IdempotencyKey,
	}, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, a.client.MissingReference("id")
	}

	return &paymentdomain.ProviderIntentHandle{
		ReferenceID:  intent.ID,
		Status:       mapIntentStatus(intent.Status),
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (a *Adapter) ConfirmIntent(ctx context.Context, providerReferenceID, paymentMethodRef string) (*paymentdomain.ProviderStatus, error) {
	form := url.Values{}
	if ref := strings.TrimSpace(paymentMethodRef); ref != "" {
		form.Set("payment_method", ref)
	}
	var intent paymentIntent
	if err := a.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        "/v1/payment_intents/" + url.PathEscape(providerReferenceID) + "/confirm",
		Body:        strings.NewReader(form.Encode()),
		ContentType: formEncoded,
	}, &intent); err != nil {
		return nil, err
	}
	return a.toProviderStatus(intent)
}

func (a *Adapter) VerifyIntent(ctx context.Context, providerReferenceID string) (*paymentdomain.ProviderStatus, error) {
	intent, err := a.retrieveIntent(ctx, providerReferenceID)
	if err != nil {
		return nil, err
	}
	return a.toProviderStatus(*intent)
}

func (a *Adapter) retrieveIntent(ctx context.Context, id string) (*paymentIntent, error) {
	var intent paymentIntent
	if err := a.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/payment_intents/" + url.PathEscape(id),
	}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (a *Adapter) toProviderStatus(intent paymentIntent) (*paymentdomain.ProviderStatus, error) {
	if strings.TrimSpace(intent.ID) == "" {
		return nil, a.client.MissingReference("id")
	}
	status := &paymentdomain.ProviderStatus{
		ReferenceID: intent.ID,
		Status:      mapIntentStatus(intent.Status),
		Amount:      a.fromProviderAmount(intent.Amount),
		Currency:    strings.ToUpper(intent.Currency),
	}
	if intent.LastPaymentError != nil {
		status.FailureCode = intent.LastPaymentError.Code
		status.FailureReason = intent.LastPaymentError.Message
	}
	return status, nil
}

type refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CancelOrRefund cancels an uncaptured intent and refunds a captured one.
func (a *Adapter) CancelOrRefund(ctx context.Context, req paymentdomain.CancelOrRefundRequest) (*paymentdomain.ProviderRefundHandle, error) {
	intent, err := a.retrieveIntent(ctx, req.ProviderReferenceID)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case "succeeded":
		return a.refund(ctx, req)
	case "canceled":
		return &paymentdomain.ProviderRefundHandle{
			Kind:   paymentdomain.RefundKindCancellation,
			Status: paymentdomain.RefundStatusSucceeded,
		}, nil
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		if req.Amount != nil {
			return nil, a.client.Fail("intent_not_captured", "payment intent has no captured charge to refund")
		}
		form := url.Values{}
		form.Set("cancellation_reason", cancellationReason(req.Reason))
		var cancelled paymentIntent
		if err := a.client.Do(ctx, transport.Request{
			Method:         http.MethodPost,
			Path:           "/v1/payment_intents/" + url.PathEscape(req.ProviderReferenceID) + "/cancel",
			Body:           strings.NewReader(form.Encode()),
			ContentType:    formEncoded,
			IdempotencyKey: req.IdempotencyKey,
		}, &cancelled); err != nil {
			return nil, err
		}
		return &paymentdomain.ProviderRefundHandle{
			Kind:   paymentdomain.RefundKindCancellation,
			Status: paymentdomain.RefundStatusSucceeded,
		}, nil
	default:
		return nil, a.client.Fail("intent_not_cancellable", "payment intent is "+intent.Status)
	}
}

func (a *Adapter) refund(ctx context.Context, req paymentdomain.CancelOrRefundRequest) (*paymentdomain.ProviderRefundHandle, error) {
	form := url.Values{}
	form.Set("payment_intent", req.ProviderReferenceID)
	if req.Amount != nil {
		amount, err := a.toProviderAmount(*req.Amount)
		if err != nil {
			return nil, err
		}
		form.Set("amount", strconv.FormatInt(amount, 10))
	}
	if reason := refundReason(req.Reason); reason != "" {
		form.Set("reason", reason)
	}
	if text := strings.TrimSpace(req.Reason); text != "" {
		form.Set("metadata[reason]", text)
	}

	var out refund
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v1/refunds",
		Body:           strings.NewReader(form.Encode()),
		ContentType:    formEncoded,
		IdempotencyKey: req.IdempotencyKey,
	}, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, a.client.MissingReference("id")
	}
	return &paymentdomain.ProviderRefundHandle{
		Kind:     paymentdomain.RefundKindRefund,
		RefundID: out.ID,
		Status:   mapRefundStatus(out.Status),
	}, nil
}

type subscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.ProviderSubscriptionHandle, error) {
	form := url.Values{}
	form.Set("customer", req.CustomerRef)
	form.Set("items[0][price]", req.PlanRef)
	form.Set("payment_behavior", "default_incomplete")
	if req.TrialDays != nil && *req.TrialDays > 0 {
		form.Set("trial_period_days", strconv.Itoa(*req.TrialDays))
	}
	if req.Reference != "" {
		form.Set("metadata[subscription_id]", req.Reference)
	}

	var out subscription
	if err := a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v1/subscriptions",
		Body:           strings.NewReader(form.Encode()),
		ContentType:    formEncoded,
		IdempotencyKey: req.IdempotencyKey,
	}, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, a.client.MissingReference("id")
	}
	return &paymentdomain.ProviderSubscriptionHandle{
		SubscriptionID:     out.ID,
		Status:             mapSubscriptionStatus(out.Status),
		CurrentPeriodStart: unixPtr(out.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(out.CurrentPeriodEnd),
	}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	path := "/v1/subscriptions/" + url.PathEscape(providerSubscriptionID)
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		return a.client.Do(ctx, transport.Request{
			Method:      http.MethodPost,
			Path:        path,
			Body:        strings.NewReader(form.Encode()),
			ContentType: formEncoded,
		}, nil)
	}
	return a.client.Do(ctx, transport.Request{Method: http.MethodDelete, Path: path}, nil)
}

func (a *Adapter) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	if name != "" {
		form.Set("name", name)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := a.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        "/v1/customers",
		Body:        strings.NewReader(form.Encode()),
		ContentType: formEncoded,
	}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", a.client.MissingReference("id")
	}
	return out.ID, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, providerCustomerID, paymentMethodRef string) error {
	form := url.Values{}
	form.Set("customer", providerCustomerID)
	return a.client.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        "/v1/payment_methods/" + url.PathEscape(paymentMethodRef) + "/attach",
		Body:        strings.NewReader(form.Encode()),
		ContentType: formEncoded,
	}, nil)
}

func decodeError(_ int, body []byte) (string, string) {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	code := payload.Error.Code
	if code == "" {
		code = payload.Error.Type
	}
	return code, payload.Error.Message
}

func mapIntentStatus(status string) paymentdomain.IntentStatus {
	switch status {
	case "succeeded":
		return paymentdomain.IntentStatusSucceeded
	case "canceled":
		return paymentdomain.IntentStatusCancelled
	default:
		return paymentdomain.IntentStatusProcessing
	}
}

func mapRefundStatus(status string) paymentdomain.RefundStatus {
	switch status {
	case "succeeded":
		return paymentdomain.RefundStatusSucceeded
	case "failed", "canceled":
		return paymentdomain.RefundStatusFailed
	default:
		return paymentdomain.RefundStatusPending
	}
}

func mapSubscriptionStatus(status string) paymentdomain.SubscriptionStatus {
	switch status {
	case "active":
		return paymentdomain.SubscriptionStatusActive
	case "trialing":
		return paymentdomain.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return paymentdomain.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return paymentdomain.SubscriptionStatusCancelled
	default:
		return paymentdomain.SubscriptionStatusIncomplete
	}
}

func cancellationReason(reason string) string {
	switch strings.TrimSpace(reason) {
	case "duplicate", "fraudulent", "abandoned":
		return strings.TrimSpace(reason)
	default:
		return "requested_by_customer"
	}
}

func refundReason(reason string) string {
	switch strings.TrimSpace(reason) {
	case "duplicate", "fraudulent", "requested_by_customer":
		return strings.TrimSpace(reason)
	default:
		return ""
	}
}

func unixPtr(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}
