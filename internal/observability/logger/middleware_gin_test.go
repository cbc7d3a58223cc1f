package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"
)

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got == "" {
		t.Fatalf("expected X-Request-Id header to be set")
	}
}

func TestGinMiddlewareKeepsIncomingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/webhooks/:provider", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected X-Request-Id req-42, got %q", got)
	}
}

func TestGinMiddlewareReplacesUnsafeRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/webhooks/:provider", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", nil)
	req.Header.Set("X-Request-Id", "evil\nlevel=error")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	got := w.Header().Get("X-Request-Id")
	if got == "" || got == "evil\nlevel=error" {
		t.Fatalf("expected a generated request id, got %q", got)
	}
}

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		route  string
		status int
		want   zapcore.Level
	}{
		{"/webhooks/:provider", http.StatusBadRequest, zapcore.WarnLevel},
		{"/webhooks/:provider", http.StatusServiceUnavailable, zapcore.ErrorLevel},
		{"/v1/payment_intents", http.StatusBadRequest, zapcore.InfoLevel},
		{"/health", http.StatusOK, zapcore.DebugLevel},
	}
	for _, tc := range cases {
		if got := requestLevel(tc.route, tc.status); got != tc.want {
			t.Fatalf("requestLevel(%q, %d) = %s, want %s", tc.route, tc.status, got, tc.want)
		}
	}
}
