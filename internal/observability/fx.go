package observability

import (
	"github.com/smallbiznis/paycore/internal/observability/logger"
	"github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.SchedulerWithConfig,
		metrics.Webhooks,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:              cfg.Export.Enabled,
		ServiceName:          cfg.ServiceName,
		ServiceVersion:       cfg.Version,
		Environment:          cfg.Environment,
		ExporterEndpoint:     cfg.Export.Endpoint,
		ExporterProtocol:     cfg.Export.Protocol,
		SamplingRatio:        cfg.Export.SamplingRatio,
		AlwaysSamplePayments: cfg.Export.AlwaysSamplePayments,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.Export.Enabled,
		ExporterEndpoint: cfg.Export.Endpoint,
		ExporterProtocol: cfg.Export.Protocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
