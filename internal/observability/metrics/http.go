package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics records server latency per route template and, for provider
// callbacks, per provider.
type HTTPMetrics struct {
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	meter := provider.Meter(cfg.service() + "/http")
	duration, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("http.server.active_requests")
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{duration: duration, inFlight: inFlight}, nil
}

// GinMiddleware records one observation per request. The provider label is
// only set once routing accepted the path segment, so arbitrary values sent
// to /webhooks/ cannot grow the label set.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		ctx := c.Request.Context()
		active := labels("endpoint", route)
		m.inFlight.Add(ctx, 1, active)
		defer m.inFlight.Add(ctx, -1, active)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []string{"endpoint", route, "status_code", strconv.Itoa(status)}
		if provider := c.Param("provider"); provider != "" && status != http.StatusNotFound {
			kv = append(kv, "provider", strings.ToLower(provider))
		}
		m.duration.Record(ctx, time.Since(start).Seconds(), labels(kv...))
	}
}
