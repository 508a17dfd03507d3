package telemetry

import (
	"context"
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-userhooks/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

type Options struct {
	ServiceName string
	// Writer receives exported spans; nil writes to stdout.
	Writer io.Writer
	Logger core.Logger
}

// InitTracer installs a stdout-exporting tracer provider as the global
// provider and returns its shutdown function.
func InitTracer(opts Options) (func(context.Context) error, error) {
	serviceName := strings.TrimSpace(opts.ServiceName)
	if serviceName == "" {
		serviceName = "userhooks"
	}
	exporterOpts := []stdouttrace.Option{}
	if opts.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	glog.Ensure(opts.Logger).Info("opentelemetry initialized", "service", serviceName)
	return tp.Shutdown, nil
}
