package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Span attributes shared by provider calls and webhook handling.
const (
	AttrProvider       = attribute.Key("payment.provider")
	AttrWebhookOutcome = attribute.Key("payment.webhook.outcome")
)

// redactedKeys name attributes that may carry credentials, signature
// material or payer PII. Provider headers such as verif-hash and
// x-paystack-signature are covered by "hash" and "signature".
var redactedKeys = []string{
	"secret",
	"token",
	"api_key",
	"authorization",
	"signature",
	"hash",
	"email",
	"phone",
	"card",
}

// SafeAttributes drops attributes whose key matches a redacted name.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if redacted(string(attr.Key)) {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

// SafeError reduces err to its type name; provider error bodies can echo
// payer details.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%T", err)
}

func redacted(key string) bool {
	key = strings.ToLower(key)
	for _, needle := range redactedKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}
