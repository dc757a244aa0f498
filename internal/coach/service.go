// Package coach answers FOIA questions, falling back across providers when
// the requested one has nothing indexed for a jurisdiction.
package coach

import (
	"context"
	"errors"
	"fmt"
	"time"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
	"github.com/muckrock/foia-coach-api/internal/observability"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

// ProviderSource resolves and hands out provider instances
type ProviderSource interface {
	Resolve(name string) (rag.ProviderName, error)
	Get(name string, useCache bool) (rag.Provider, error)
}

// ReadinessChecker reports whether a provider has any ready resource for a
// state. An empty state means any state.
type ReadinessChecker interface {
	HasReadyResources(ctx context.Context, provider, state string) (bool, error)
}

// Data keys on a no_resources error
const (
	DataKeyState    = "state"
	DataKeyProvider = "provider"
)

// Service is the fallback query orchestrator
type Service struct {
	providers ProviderSource
	readiness ReadinessChecker
	tracer    observability.TracingHandler
	logger    *logging.Logger
}

// NewService creates a service. A nil tracer disables tracing.
func NewService(providers ProviderSource, readiness ReadinessChecker, tracer observability.TracingHandler, logger *logging.Logger) *Service {
	if tracer == nil {
		tracer = observability.NewDisabledProvider()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		providers: providers,
		readiness: readiness,
		tracer:    tracer,
		logger:    logger.WithName("coach"),
	}
}

// candidates lists the primary followed by the fixed fallback order
// without the primary.
func candidates(primary rag.ProviderName) []rag.ProviderName {
	out := []rag.ProviderName{primary}
	for _, name := range rag.FallbackOrder {
		if name != primary {
			out = append(out, name)
		}
	}
	return out
}

// QueryWithFallback answers req with the requested provider (or the default)
// when it has ready resources for req.State, otherwise with the first
// fallback candidate that does. Attempts are sequential.
func (s *Service) QueryWithFallback(ctx context.Context, req rag.QueryRequest, providerName string) (*rag.QueryResult, error) {
	primary, err := s.providers.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartTrace(ctx, "coach.query", req.Question, map[string]string{
		"coach.state":              req.State,
		"coach.requested_provider": string(primary),
	})
	defer span.End()

	var failures []error
	for i, name := range candidates(primary) {
		if err := ctx.Err(); err != nil {
			s.tracer.RecordError(span, err, "ERROR")
			return nil, err
		}

		ready, err := s.readiness.HasReadyResources(ctx, string(name), req.State)
		if err != nil {
			s.logger.WarnKV("Readiness check failed", "provider", name, "state", req.State, "error", err)
			failures = append(failures, err)
			continue
		}
		if !ready {
			s.logger.DebugKV("No ready resources", "provider", name, "state", stateLabel(req.State))
			continue
		}

		result, err := s.query(ctx, name, req)
		if err != nil {
			s.logger.WarnKV("Provider query failed, trying next", "provider", name, "state", req.State, "error", err)
			failures = append(failures, err)
			continue
		}

		result.FallbackUsed = i > 0
		result.RequestedProvider = string(primary)
		result.ActualProvider = string(name)
		if result.State == "" {
			result.State = req.State
		}
		if result.FallbackUsed {
			s.logger.InfoKV("Answered with fallback provider", "requested", primary, "actual", name, "state", req.State)
			monitoring.RecordFallback(string(primary), string(name))
		}
		s.tracer.SetOutput(span, result.Answer)
		s.tracer.RecordSuccess(span, "answered by "+string(name))
		return result, nil
	}

	err = s.exhausted(primary, req.State, failures)
	s.tracer.RecordError(span, err, "WARNING")
	return nil, err
}

func (s *Service) query(ctx context.Context, name rag.ProviderName, req rag.QueryRequest) (*rag.QueryResult, error) {
	provider, err := s.providers.Get(string(name), true)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartLLMSpan(ctx, "provider.query", string(name), req.Model, req.Question)
	defer span.End()

	start := time.Now()
	result, err := provider.Query(ctx, req)
	elapsed := time.Since(start)
	s.tracer.SetDuration(span, elapsed)
	if err != nil {
		monitoring.ObserveQuery(string(name), outcome(err), elapsed)
		recordQuota(name, err)
		s.tracer.RecordError(span, err, "ERROR")
		return nil, err
	}
	monitoring.ObserveQuery(string(name), "success", elapsed)
	s.tracer.SetOutput(span, result.Answer)
	return result, nil
}

// exhausted builds the error returned when no candidate answered. A quota
// or disabled-API failure stays reachable through errors.As so callers can
// map it; the wrapper carries the requested provider and state.
func (s *Service) exhausted(primary rag.ProviderName, state string, failures []error) error {
	for _, err := range failures {
		var quota *rag.QuotaExceededError
		var disabled *rag.APIDisabledError
		if errors.As(err, &quota) || errors.As(err, &disabled) {
			return customErrors.WrapWithDomain(err, customErrors.ErrorDomainCoach, customErrors.CodeProviderUnavailable,
				fmt.Sprintf("no provider could answer for %s (requested provider: %s)", stateLabel(state), primary)).
				WithData(DataKeyState, state).
				WithData(DataKeyProvider, string(primary))
		}
	}

	de := customErrors.NewCoachErrorf(customErrors.CodeNoResources,
		"no provider has resources available for %s (requested provider: %s)", stateLabel(state), primary).
		WithData(DataKeyState, state).
		WithData(DataKeyProvider, string(primary))
	if len(failures) > 0 {
		de.Cause = failures[len(failures)-1]
	}
	return de
}

// StreamSelection records which provider a stream was opened against
type StreamSelection struct {
	RequestedProvider string `json:"requested_provider"`
	ActualProvider    string `json:"actual_provider"`
	FallbackUsed      bool   `json:"fallback_used"`
}

// StreamWithFallback selects a provider the same way QueryWithFallback does
// and opens a stream on it. There is no fallback once the stream has started.
func (s *Service) StreamWithFallback(ctx context.Context, req rag.QueryRequest, providerName string) (<-chan rag.StreamEvent, *StreamSelection, error) {
	primary, err := s.providers.Resolve(providerName)
	if err != nil {
		return nil, nil, err
	}

	var failures []error
	for i, name := range candidates(primary) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ready, err := s.readiness.HasReadyResources(ctx, string(name), req.State)
		if err != nil {
			s.logger.WarnKV("Readiness check failed", "provider", name, "state", req.State, "error", err)
			failures = append(failures, err)
			continue
		}
		if !ready {
			continue
		}
		provider, err := s.providers.Get(string(name), true)
		if err != nil {
			failures = append(failures, err)
			continue
		}

		sel := &StreamSelection{
			RequestedProvider: string(primary),
			ActualProvider:    string(name),
			FallbackUsed:      i > 0,
		}
		if sel.FallbackUsed {
			monitoring.RecordFallback(sel.RequestedProvider, sel.ActualProvider)
		}
		s.logger.DebugKV("Opening stream", "provider", name, "state", req.State, "fallback", sel.FallbackUsed)
		return s.observeStream(ctx, name, req, provider.QueryStream(ctx, req)), sel, nil
	}
	return nil, nil, s.exhausted(primary, req.State, failures)
}

// observeStream forwards events unchanged while recording the outcome
func (s *Service) observeStream(ctx context.Context, name rag.ProviderName, req rag.QueryRequest, in <-chan rag.StreamEvent) <-chan rag.StreamEvent {
	out := make(chan rag.StreamEvent)
	go func() {
		defer close(out)
		ctx, span := s.tracer.StartLLMSpan(ctx, "provider.query_stream", string(name), req.Model, req.Question)
		defer span.End()

		start := time.Now()
		result := "success"
		for ev := range in {
			if ev.Type == rag.EventError {
				result = outcome(ev.Err)
				recordQuota(name, ev.Err)
				s.tracer.RecordError(span, ev.Err, "ERROR")
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// drain so the provider goroutine can exit
				for range in {
				}
				monitoring.ObserveQuery(string(name), "canceled", time.Since(start))
				return
			}
		}
		s.tracer.SetDuration(span, time.Since(start))
		monitoring.ObserveQuery(string(name), result, time.Since(start))
	}()
	return out
}

func stateLabel(state string) string {
	if state == "" {
		return "all states"
	}
	return state
}

func outcome(err error) string {
	var quota *rag.QuotaExceededError
	var disabled *rag.APIDisabledError
	switch {
	case errors.As(err, &quota):
		return "quota_exceeded"
	case errors.As(err, &disabled):
		return "api_disabled"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

func recordQuota(name rag.ProviderName, err error) {
	var quota *rag.QuotaExceededError
	if errors.As(err, &quota) {
		monitoring.RecordQuotaError(string(name), quota.RetryAfter)
	}
}
