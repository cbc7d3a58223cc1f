package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrMissingReference = errors.New("missing_reference")
	ErrInvalidConfig    = errors.New("invalid_config")

	// ErrWebhookNotRecorded means a signed event was neither applied nor
	// queued for review; the provider must redeliver it.
	ErrWebhookNotRecorded = errors.New("webhook_not_recorded")
)

// Coded is implemented by errors that carry a stable machine readable code.
type Coded interface {
	ErrorCode() string
}

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func NewValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

func (e *ValidationError) ErrorCode() string { return e.Code }

// ProviderError is any failure reported by, or while reaching, an external
// processor API.
type ProviderError struct {
	Provider   Provider
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider.Slug(), e.Code, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) ErrorCode() string { return e.Code }

// SignatureError rejects an unauthenticated webhook. The message stays
// generic so callers cannot learn which check failed.
type SignatureError struct {
	Provider Provider
}

func (e *SignatureError) Error() string { return "invalid_signature" }

func (e *SignatureError) ErrorCode() string { return "invalid_signature" }

// DuplicateEventError marks an event that the ledger already recorded.
type DuplicateEventError struct {
	Provider Provider
	EventID  string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate event %s/%s", e.Provider.Slug(), e.EventID)
}

func (e *DuplicateEventError) ErrorCode() string { return "duplicate_event" }

// UnknownReferenceError marks a webhook whose provider reference does not
// match any canonical record.
type UnknownReferenceError struct {
	Provider  Provider
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown reference %s/%s", e.Provider.Slug(), e.Reference)
}

func (e *UnknownReferenceError) ErrorCode() string { return "unknown_reference" }

// StateConflictError is an attempted move out of a terminal state.
type StateConflictError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *StateConflictError) ErrorCode() string { return "state_conflict" }

// ErrorCode extracts the stable code from err, or "" when it has none.
func ErrorCode(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrWebhookNotRecorded):
		return "webhook_not_recorded"
	default:
		return ""
	}
}

// IsRetryable reports whether err is a ProviderError flagged retryable.
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return false
}
