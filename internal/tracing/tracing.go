// Package tracing настраивает провайдер трассировки OpenTelemetry.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ranking-cache-service/internal/config"
)

const instrumentationName = "ranking-cache-service"

var (
	setupOnce sync.Once
	shutdown  = func(context.Context) error { return nil }
)

// Init installs a global tracer provider sampling cfg.SampleRatio of root
// traces. With tracing disabled the global no-op provider stays in place.
func Init(cfg config.TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return shutdown, nil
	}

	var initErr error
	setupOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		shutdown = provider.Shutdown
		zap.S().Infow("tracing enabled", "service", cfg.ServiceName, "ratio", cfg.SampleRatio)
	})
	return shutdown, initErr
}

// Tracer returns the package tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
