package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DisabledProvider provides no-op tracing when observability is disabled.
// Spans already on the context are passed through untouched.
type DisabledProvider struct{}

// NewDisabledProvider creates a new disabled provider
func NewDisabledProvider() *DisabledProvider {
	return &DisabledProvider{}
}

func (p *DisabledProvider) StartTrace(ctx context.Context, _ string, _ string, _ map[string]string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (p *DisabledProvider) StartSpan(ctx context.Context, _ string, _ string, _ string, _ map[string]string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (p *DisabledProvider) StartLLMSpan(ctx context.Context, _ string, _ string, _ string, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (p *DisabledProvider) SetOutput(trace.Span, string) {}

func (p *DisabledProvider) SetDuration(trace.Span, time.Duration) {}

func (p *DisabledProvider) RecordError(trace.Span, error, string) {}

func (p *DisabledProvider) RecordSuccess(trace.Span, string) {}

func (p *DisabledProvider) GetProvider() TracingProvider {
	return ProviderDisabled
}

func (p *DisabledProvider) IsEnabled() bool {
	return false
}
