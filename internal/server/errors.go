package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// retryAfterSeconds is sent with every 503 so webhook senders and API
// clients back off before redelivering.
const retryAfterSeconds = "5"

var (
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrPayloadTooLarge = errors.New("payload_too_large")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusServiceUnavailable {
			c.Header("Retry-After", retryAfterSeconds)
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalPayload()
	}

	if vErr := asValidationErrors(err); vErr != nil {
		code := ""
		if len(vErr.Errors) == 1 {
			code = vErr.Errors[0].Code
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var (
		validation *paymentdomain.ValidationError
		signature  *paymentdomain.SignatureError
		provider   *paymentdomain.ProviderError
	)
	switch {
	case errors.Is(err, paymentdomain.ErrWebhookNotRecorded):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Code:    "webhook_not_recorded",
			Message: "webhook could not be stored, retry later",
		}
	case errors.As(err, &validation):
		if validation.Code == "not_found" {
			return http.StatusNotFound, notFoundPayload()
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    validation.Code,
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validation.Field,
					Code:    validation.Code,
					Message: validation.Message,
				},
			},
		}
	case errors.As(err, &signature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Code:    signature.ErrorCode(),
			Message: "webhook signature could not be verified",
		}
	case errors.As(err, &provider):
		status := http.StatusBadGateway
		if provider.Retryable {
			status = http.StatusServiceUnavailable
		}
		return status, errorPayload{
			Type:    "provider_error",
			Code:    provider.Code,
			Message: "payment provider request failed",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Code:    "payload_too_large",
			Message: "request body too large",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, notFoundPayload()
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    "invalid_request",
			Message: "invalid request",
		}
	default:
		return http.StatusInternalServerError, internalPayload()
	}
}

func notFoundPayload() errorPayload {
	return errorPayload{
		Type:    "not_found",
		Code:    "not_found",
		Message: "not found",
	}
}

func internalPayload() errorPayload {
	return errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
