package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
)

// maxAttributeLength caps question and answer text stored on spans
const maxAttributeLength = 2000

// SimpleProvider provides basic OpenTelemetry tracing
type SimpleProvider struct {
	tracer trace.Tracer
	logger *logging.Logger
	config config.ObservabilityConfig
}

// NewSimpleProvider creates a provider on the global tracer
func NewSimpleProvider(cfg config.ObservabilityConfig, logger *logging.Logger) *SimpleProvider {
	return newSimpleProvider(otel.Tracer(TracerName), cfg, logger)
}

func newSimpleProvider(tracer trace.Tracer, cfg config.ObservabilityConfig, logger *logging.Logger) *SimpleProvider {
	return &SimpleProvider{tracer: tracer, logger: logger, config: cfg}
}

func (p *SimpleProvider) StartTrace(ctx context.Context, name string, input string, metadata map[string]string) (context.Context, trace.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)

	span.SetAttributes(
		attribute.String("service.name", p.serviceName()),
		attribute.String("environment", environment()),
		attribute.String("trace.name", name),
		attribute.String("input.value", clip(input)),
		attribute.Int("input.length", len(input)),
	)
	for key, value := range metadata {
		span.SetAttributes(attribute.String(key, value))
	}
	return spanCtx, span
}

func (p *SimpleProvider) StartSpan(ctx context.Context, name string, spanType string, input string, metadata map[string]string) (context.Context, trace.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)

	if spanType != "" {
		span.SetAttributes(attribute.String("span.type", spanType))
	}
	if input != "" {
		span.SetAttributes(
			attribute.String("input.value", clip(input)),
			attribute.Int("input.length", len(input)),
		)
	}
	for key, value := range metadata {
		span.SetAttributes(attribute.String(key, value))
	}
	return spanCtx, span
}

func (p *SimpleProvider) StartLLMSpan(ctx context.Context, name string, provider string, model string, input string) (context.Context, trace.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)

	span.SetAttributes(
		attribute.String("llm.operation_type", "generation"),
		attribute.String("llm.provider", provider),
		attribute.String("llm.model_name", model),
		attribute.String("input.value", clip(input)),
		attribute.Int("input.length", len(input)),
	)
	return spanCtx, span
}

func (p *SimpleProvider) SetOutput(span trace.Span, output string) {
	span.SetAttributes(
		attribute.String("output.value", clip(output)),
		attribute.Int("output.length", len(output)),
	)
}

func (p *SimpleProvider) SetDuration(span trace.Span, duration time.Duration) {
	span.SetAttributes(
		attribute.Float64("duration.seconds", duration.Seconds()),
		attribute.Int64("duration.milliseconds", duration.Milliseconds()),
	)
}

func (p *SimpleProvider) RecordError(span trace.Span, err error, level string) {
	if err == nil {
		return
	}

	span.SetAttributes(
		attribute.String("error.type", "error"),
		attribute.String("error.message", err.Error()),
	)
	if level != "" {
		span.SetAttributes(attribute.String("error.level", level))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (p *SimpleProvider) RecordSuccess(span trace.Span, message string) {
	span.SetAttributes(attribute.String("status", "success"))
	span.SetStatus(codes.Ok, message)
}

func (p *SimpleProvider) GetProvider() TracingProvider {
	return ProviderSimple
}

func (p *SimpleProvider) IsEnabled() bool {
	return true
}

func (p *SimpleProvider) serviceName() string {
	if p.config.ServiceName != "" {
		return p.config.ServiceName
	}
	return TracerName
}

func environment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}

func clip(s string) string {
	if len(s) <= maxAttributeLength {
		return s
	}
	return s[:maxAttributeLength]
}
