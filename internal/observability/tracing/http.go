package tracing

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WrapHTTPClient returns a copy of client whose transport opens a client
// span tagged with provider for every outbound call. Trace headers are not
// forwarded: the provider sits outside the trust boundary. The caller's
// client is not modified.
func WrapHTTPClient(client *http.Client, provider string) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	clone := *client
	base := clone.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clone.Transport = &providerTransport{
		base:     base,
		provider: provider,
		tracer:   otel.Tracer("paycore/provider"),
	}
	return &clone
}

type providerTransport struct {
	base     http.RoundTripper
	provider string
	tracer   trace.Tracer
}

func (t *providerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	method := strings.ToUpper(req.Method)
	ctx, span := t.tracer.Start(req.Context(), t.provider+" "+method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrProvider.String(t.provider),
			attribute.String("http.method", method),
			attribute.String("server.address", req.URL.Host),
		),
	)
	defer span.End()

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, "transport error")
		return resp, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, "provider unavailable")
	case resp.StatusCode >= http.StatusBadRequest:
		span.SetStatus(codes.Error, "provider rejected request")
	}
	return resp, nil
}
