package tracing

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/grafana/spancache/pkg/util/log"
)

// InstallOpenTelemetryTracer sets the global tracer provider. The exporter is
// configured from the OTEL_* environment variables. The returned func flushes
// and shuts the provider down.
func InstallOpenTelemetryTracer(appName string) (func(), error) {
	level.Info(log.Logger).Log("msg", "initialising OpenTelemetry tracer")

	exp, err := autoexport.NewSpanExporter(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithHost(),
		resource.WithAttributes(
			attribute.String("service.name", appName),
			attribute.String("service.version", version.Version),
		),
		// OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME win
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise trace resources: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		level.Error(log.Logger).Log("msg", "OpenTelemetry.ErrorHandler", "err", err)
	}))

	shutdown := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			level.Error(log.Logger).Log("msg", "OpenTelemetry trace provider failed to shutdown", "err", err)
		}
	}
	return shutdown, nil
}
