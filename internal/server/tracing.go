package server

import (
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Chase-Garrett/sealedchat/internal/config"
)

const serviceName = "sealedchat"

// newTracerProvider builds the provider behind the HTTP and routing spans.
// Without an exporter spans are sampled and dropped in-process.
func newTracerProvider(cfg config.Tracing) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	}

	switch cfg.Exporter {
	case config.ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case config.ExporterNone, "":
	default:
		return nil, fmt.Errorf("unknown tracing.exporter %q", cfg.Exporter)
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
