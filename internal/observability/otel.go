// Package observability wires OpenTelemetry trace export.
//
// Spans are exported over OTLP HTTP to a local collector agent. The agent
// buffers and forwards; the app never talks to a tracing backend directly
// and never carries backend credentials.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stoa-labs/stoa/internal/log"
)

// Config for OTEL trace export.
type Config struct {
	// AgentHost is the collector OTLP HTTP endpoint (host:port, no scheme).
	AgentHost string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// ServiceName is the service name shown in the tracing backend.
	ServiceName string
}

// DefaultAgentHost is the default collector OTLP HTTP endpoint.
const DefaultAgentHost = "localhost:4318"

// Setup installs a global TracerProvider exporting to the collector agent.
//
// Returns a shutdown function that flushes pending spans. Exporter
// construction failure disables tracing rather than failing startup.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "stoa"
	}

	// localhost agent, no TLS
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"agent", agentHost,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return tp.Shutdown, nil
}
