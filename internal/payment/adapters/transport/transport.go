package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	obstracing "github.com/smallbiznis/paycore/internal/observability/tracing"
	"github.com/smallbiznis/paycore/internal/payment/domain"
)

const (
	DefaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20
)

// ErrorDecoder extracts a provider error code and message from a non-2xx
// response body.
type ErrorDecoder func(status int, body []byte) (code string, message string)

// Request is one outbound provider call.
type Request struct {
	Method         string
	Path           string
	Query          map[string]string
	Body           io.Reader
	ContentType    string
	IdempotencyKey string
}

// Client is the shared HTTP transport for provider adapters. It converts
// network failures and non-2xx responses into domain.ProviderError.
type Client struct {
	provider       domain.Provider
	baseURL        string
	http           *http.Client
	authorize      func(*http.Request)
	decodeError    ErrorDecoder
	idempotencyHdr string
}

type ClientConfig struct {
	Provider          domain.Provider
	BaseURL           string
	Timeout           time.Duration
	HTTPClient        *http.Client
	Authorize         func(*http.Request)
	DecodeError       ErrorDecoder
	IdempotencyHeader string
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	header := cfg.IdempotencyHeader
	if header == "" {
		header = "Idempotency-Key"
	}
	return &Client{
		provider:       cfg.Provider,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           obstracing.WrapHTTPClient(httpClient, cfg.Provider.Slug()),
		authorize:      cfg.Authorize,
		decodeError:    cfg.DecodeError,
		idempotencyHdr: header,
	}
}

// Do sends req and decodes a 2xx JSON body into out.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	endpoint := c.baseURL + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, req.Body)
	if err != nil {
		return c.newError("invalid_request", err.Error(), 0, false, err)
	}
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set(c.idempotencyHdr, key)
	}
	if c.authorize != nil {
		c.authorize(httpReq)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return c.transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code, message := "", ""
		if c.decodeError != nil {
			code, message = c.decodeError(resp.StatusCode, body)
		}
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return c.newError(code, message, resp.StatusCode, retryableStatus(resp.StatusCode), nil)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.newError("invalid_response", "decode response", resp.StatusCode, false, err)
	}
	return nil
}

// MissingReference is returned when a success response omits the id the
// caller needs to reconcile the record later.
func (c *Client) MissingReference(field string) error {
	return c.newError("missing_reference", field+" missing from provider response", 0, false, domain.ErrMissingReference)
}

// Fail builds a non-retryable ProviderError without a transport round trip.
func (c *Client) Fail(code, message string) error {
	return c.newError(code, message, 0, false, nil)
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return c.newError("request_cancelled", ctx.Err().Error(), 0, errors.Is(ctx.Err(), context.DeadlineExceeded), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.newError("timeout", "provider request timed out", 0, true, err)
	}
	return c.newError("network_error", "provider unreachable", 0, true, err)
}

func (c *Client) newError(code, message string, status int, retryable bool, err error) error {
	return &domain.ProviderError{
		Provider:   c.provider,
		Code:       code,
		Message:    message,
		StatusCode: status,
		Retryable:  retryable,
		Err:        err,
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// JSONBody encodes v for a JSON request.
func JSONBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

// EqualSignature compares two digests in constant time.
func EqualSignature(expected, provided []byte) bool {
	if len(expected) == 0 || len(provided) == 0 {
		return false
	}
	return hmac.Equal(expected, provided)
}
