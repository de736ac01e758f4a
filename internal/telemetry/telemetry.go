package telemetry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Config задаёт параметры трассировки сервиса.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// host:port OTLP/HTTP коллектора; пустая строка отключает экспорт.
	OTLPEndpoint string
	Insecure     bool
}

// ShutdownFunc сбрасывает накопленные спаны и останавливает провайдер.
type ShutdownFunc func(ctx context.Context) error

// Init настраивает глобальный TracerProvider. Без OTLPEndpoint остаётся no-op провайдер otel,
// а спаны в коде саги ничего не стоят.
func Init(ctx context.Context, cfg Config, logger *log.Entry) (ShutdownFunc, error) {
	if logger == nil {
		logger = log.WithField("component", "telemetry")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.OTLPEndpoint == "" {
		logger.Info("otlp endpoint is not configured, tracing export disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(provider)

	logger.WithField("endpoint", cfg.OTLPEndpoint).Info("otlp tracing enabled")
	return provider.Shutdown, nil
}
