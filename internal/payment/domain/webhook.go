package domain

import (
	"context"
	"net/http"
)

// WebhookHandler authenticates and applies one provider callback.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, provider Provider, payload []byte, headers http.Header) (*WebhookResult, error)
}

// WebhookResult tells the transport layer what happened. Only a non-nil
// error carrying a SignatureError maps to a client error; every other
// outcome is acknowledged.
type WebhookResult struct {
	Provider       Provider       `json:"provider"`
	EventID        string         `json:"event_id,omitempty"`
	EventType      EventType      `json:"event_type,omitempty"`
	Outcome        WebhookOutcome `json:"outcome"`
	ReviewRequired bool           `json:"review_required,omitempty"`
	TransitionNoop bool           `json:"-"`
}
