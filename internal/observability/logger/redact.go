package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redactedValue = "[redacted]"

// sensitiveKeys match field names that can hold provider credentials,
// webhook signatures or payer contact details.
var sensitiveKeys = []string{
	"secret",
	"api_key",
	"authorization",
	"signature",
	"verif_hash",
	"email",
	"phone",
	"card_number",
}

// Redact wraps core so that sensitive fields are written as "[redacted]",
// whether they are passed to With or to a single log call.
func Redact(core zapcore.Core) zapcore.Core {
	return redactingCore{core}
}

type redactingCore struct {
	zapcore.Core
}

func (c redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return redactingCore{c.Core.With(scrub(fields))}
}

func (c redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, scrub(fields))
}

func scrub(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if !Sensitive(f.Key) {
			continue
		}
		if out == nil {
			out = append(make([]zapcore.Field, 0, len(fields)), fields...)
		}
		out[i] = zap.String(f.Key, redactedValue)
	}
	if out == nil {
		return fields
	}
	return out
}

// Sensitive reports whether a field or header name must not be logged.
func Sensitive(key string) bool {
	key = strings.ToLower(strings.ReplaceAll(key, "-", "_"))
	for _, needle := range sensitiveKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}
