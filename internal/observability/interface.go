// Package observability provides OpenTelemetry tracing for queries and uploads
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
)

type TracingProvider string

const (
	ProviderSimple   TracingProvider = "simple-otel"
	ProviderDisabled TracingProvider = "disabled"
)

const TracerName = "foia-coach-api"

type TracingHandler interface {
	// Core span operations
	StartTrace(ctx context.Context, name string, input string, metadata map[string]string) (context.Context, trace.Span)
	StartSpan(ctx context.Context, name string, spanType string, input string, metadata map[string]string) (context.Context, trace.Span)
	StartLLMSpan(ctx context.Context, name string, provider string, model string, input string) (context.Context, trace.Span)

	// Span attribute setters
	SetOutput(span trace.Span, output string)
	SetDuration(span trace.Span, duration time.Duration)

	// Status and error handling
	RecordError(span trace.Span, err error, level string)
	RecordSuccess(span trace.Span, message string)

	GetProvider() TracingProvider
	IsEnabled() bool
}

// NewTracingHandler creates a tracing handler based on config. Spans go to
// the global tracer provider, so call Setup first.
func NewTracingHandler(cfg config.ObservabilityConfig, logger *logging.Logger) TracingHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	if !cfg.Enabled {
		logger.Info("Observability disabled")
		return NewDisabledProvider()
	}
	provider := NewSimpleProvider(cfg, logger)
	logger.InfoKV("Tracing provider initialized", "type", ProviderSimple, "service", provider.serviceName())
	return provider
}
