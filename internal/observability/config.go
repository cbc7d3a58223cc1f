package observability

import (
	"strings"

	"github.com/smallbiznis/paycore/internal/config"
)

// Config is the telemetry view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	Export ExportConfig
}

// ExportConfig controls OTLP export of traces and metrics.
type ExportConfig struct {
	Enabled              bool
	Endpoint             string
	Protocol             string
	SamplingRatio        float64
	AlwaysSamplePayments bool
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "paycore"
	}
	t := cfg.Telemetry
	return Config{
		ServiceName: name,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    t.LogLevel,
		LogFormat:   t.LogFormat,
		Export: ExportConfig{
			Enabled:              t.OtelEnabled,
			Endpoint:             t.OTLPEndpoint,
			Protocol:             t.OTLPProtocol,
			SamplingRatio:        t.SamplingRatio,
			AlwaysSamplePayments: t.AlwaysSamplePayments,
		},
	}
}

// Debug reports whether verbose logging applies: an explicit debug level,
// or a local or test environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
