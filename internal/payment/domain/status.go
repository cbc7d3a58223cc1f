package domain

// IntentStatus is the lifecycle state of a PaymentIntent.
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "PENDING"
	IntentStatusProcessing IntentStatus = "PROCESSING"
	IntentStatusSucceeded  IntentStatus = "SUCCEEDED"
	IntentStatusFailed     IntentStatus = "FAILED"
	IntentStatusCancelled  IntentStatus = "CANCELLED"
)

func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusCancelled:
		return true
	default:
		return false
	}
}

func (s IntentStatus) rank() int {
	switch s {
	case IntentStatusPending:
		return 0
	case IntentStatusProcessing:
		return 1
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusCancelled:
		return 2
	default:
		return -1
	}
}

// FailureAmountMismatch marks an intent whose provider reported success
// for a different amount or currency.
const FailureAmountMismatch = "amount_mismatch"

// FailureNotRecorded marks a record the provider acted on after the local
// write of its result failed.
const FailureNotRecorded = "provider_result_not_recorded"

// TransitionDecision is the outcome of checking a requested state change.
type TransitionDecision int

const (
	// TransitionApply means the change must be written.
	TransitionApply TransitionDecision = iota
	// TransitionNoop means the record is already at or past the target.
	TransitionNoop
	// TransitionConflict means the record is terminal in a different state.
	TransitionConflict
)

// DecideIntentTransition guards every PaymentIntent mutation. Moving into a
// state equal to or behind the current one is a no-op; leaving a terminal
// state is a conflict.
func DecideIntentTransition(from, to IntentStatus) TransitionDecision {
	if from == to {
		return TransitionNoop
	}
	if from.Terminal() {
		return TransitionConflict
	}
	if to.rank() <= from.rank() {
		return TransitionNoop
	}
	return TransitionApply
}

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled  SubscriptionStatus = "CANCELLED"
)

// DecideSubscriptionTransition applies the same guard to subscriptions.
// CANCELLED is the only terminal state; the others move freely since
// providers flip between ACTIVE and PAST_DUE over a subscription's life.
func DecideSubscriptionTransition(from, to SubscriptionStatus) TransitionDecision {
	if from == to {
		return TransitionNoop
	}
	if from == SubscriptionStatusCancelled {
		return TransitionConflict
	}
	if to == SubscriptionStatusIncomplete {
		return TransitionNoop
	}
	return TransitionApply
}

// InvoiceStatus is the lifecycle state of an Invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusOpen          InvoiceStatus = "OPEN"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
	InvoiceStatusUncollectible InvoiceStatus = "UNCOLLECTIBLE"
)

func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	default:
		return false
	}
}

// RefundStatus is the lifecycle state of a Refund.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusSucceeded  RefundStatus = "SUCCEEDED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

func (s RefundStatus) Terminal() bool {
	return s == RefundStatusSucceeded || s == RefundStatusFailed
}

// EventType is the provider-neutral webhook event taxonomy.
type EventType string

const (
	EventIntentSucceeded       EventType = "INTENT_SUCCEEDED"
	EventIntentFailed          EventType = "INTENT_FAILED"
	EventSubscriptionActivated EventType = "SUBSCRIPTION_ACTIVATED"
	EventSubscriptionCancelled EventType = "SUBSCRIPTION_CANCELLED"
	EventRefundCompleted       EventType = "REFUND_COMPLETED"
	EventInvoicePaid           EventType = "INVOICE_PAID"
	EventInvoicePaymentFailed  EventType = "INVOICE_PAYMENT_FAILED"
)

// WebhookOutcome classifies what happened to one webhook delivery.
type WebhookOutcome string

const (
	OutcomeApplied                  WebhookOutcome = "APPLIED"
	OutcomeIgnoredDuplicate         WebhookOutcome = "IGNORED_DUPLICATE"
	OutcomeRejectedInvalidSignature WebhookOutcome = "REJECTED_INVALID_SIGNATURE"
	OutcomeRejectedUnknownReference WebhookOutcome = "REJECTED_UNKNOWN_REFERENCE"
	OutcomeIgnoredUnsupported       WebhookOutcome = "IGNORED_UNSUPPORTED"

	// OutcomeQueuedForReview is a signed delivery that could not be parsed
	// or applied. It is acknowledged and left for an operator.
	OutcomeQueuedForReview WebhookOutcome = "QUEUED_FOR_REVIEW"
)
