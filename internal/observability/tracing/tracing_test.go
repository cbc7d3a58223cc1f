package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.method", "POST"),
		attribute.String("webhook_secret", "whsec"),
		attribute.String("customer.email", "ada@example.com"),
		attribute.String("stripe_signature", "t=1,v1=abc"),
		attribute.String("verif_hash", "abc"),
		attribute.String("payer.phone", "+233200000000"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.method"), attrs[0].Key)
}

func TestSafeErrorKeepsTypeOnly(t *testing.T) {
	err := SafeError(errors.New("card 4242 declined"))
	assert.Equal(t, "*errors.errorString", err.Error())
	assert.Nil(t, SafeError(nil))
}

func TestSamplerKeepsProviderSpans(t *testing.T) {
	sampler := NewSampler(0.0001, true)

	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{8: 0xff, 9: 0xff, 10: 0xff, 11: 0xff, 12: 0xff, 13: 0xff, 14: 0xff, 15: 0xff},
		Name:          "stripe POST /v1/payment_intents",
		Attributes:    []attribute.KeyValue{AttrProvider.String("card")},
	}
	assert.Equal(t, sdktrace.RecordAndSample, sampler.ShouldSample(params).Decision)

	params.Attributes = nil
	assert.Equal(t, sdktrace.Drop, sampler.ShouldSample(params).Decision)
}

func TestSamplerKeepsProviderSpanUnderUnsampledParent(t *testing.T) {
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{1},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), parent)
	params := sdktrace.SamplingParameters{
		ParentContext: ctx,
		TraceID:       parent.TraceID(),
		Name:          "paystack GET /transaction/verify/ref_1",
		Attributes:    []attribute.KeyValue{AttrProvider.String("mobile_money")},
	}

	assert.Equal(t, sdktrace.RecordAndSample, NewSampler(1, true).ShouldSample(params).Decision)
	assert.Equal(t, sdktrace.Drop, NewSampler(1, false).ShouldSample(params).Decision)
}

func TestWrapHTTPClientTagsProviderWithoutForwardingTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	installRecorder(t, recorder)

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	original := &http.Client{}
	wrapped := WrapHTTPClient(original, "stripe")
	assert.Nil(t, original.Transport)
	assert.NotNil(t, wrapped.Transport)

	resp, err := wrapped.Get(srv.URL + "/v1/payment_intents/pi_1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Empty(t, traceparent)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "stripe GET /v1/payment_intents/pi_1", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), AttrProvider.String("stripe"))
}

func TestGinMiddlewareStartsRootForProviderCallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	installRecorder(t, recorder)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/webhooks/:provider", func(c *gin.Context) {
		c.Set("webhook_outcome", "APPLIED")
		c.Status(http.StatusOK)
	})
	r.GET("/payments", func(c *gin.Context) { c.Status(http.StatusOK) })

	upstream := trace.TraceID{0xab}
	inject := func(req *http.Request) {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    upstream,
			SpanID:     trace.SpanID{0xcd},
			TraceFlags: trace.FlagsSampled,
		})
		otel.GetTextMapPropagator().Inject(
			trace.ContextWithSpanContext(context.Background(), sc),
			propagation.HeaderCarrier(req.Header),
		)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	inject(req)
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/payments", nil)
	inject(req)
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.NotEqual(t, upstream, spans[0].SpanContext().TraceID())
	assert.Contains(t, spans[0].Attributes(), AttrProvider.String("stripe"))
	assert.Contains(t, spans[0].Attributes(), AttrWebhookOutcome.String("APPLIED"))
	assert.Equal(t, upstream, spans[1].SpanContext().TraceID())
}

func installRecorder(t *testing.T, recorder *tracetest.SpanRecorder) {
	t.Helper()
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
}
