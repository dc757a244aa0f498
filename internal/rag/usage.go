package rag

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
)

const (
	usageWindow = time.Minute
	// usageWarnThreshold triggers a warning when the rolling window holds more requests
	usageWarnThreshold = 50
)

// UsageStats is a snapshot of one provider's request counters
type UsageStats struct {
	TotalRequests      int64 `json:"total_requests"`
	RequestsLastMinute int   `json:"requests_last_minute"`
	RequestsPerMinute  int   `json:"requests_per_minute_limit"`
}

type providerUsage struct {
	total   int64
	recent  []time.Time
	limit   int
	limiter *rate.Limiter
}

// UsageTracker counts outbound provider requests and optionally throttles them.
// One tracker is shared by every provider instance in the process.
type UsageTracker struct {
	mu     sync.Mutex
	usage  map[ProviderName]*providerUsage
	logger *logging.Logger
	now    func() time.Time
}

// NewUsageTracker creates an empty tracker
func NewUsageTracker(logger *logging.Logger) *UsageTracker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &UsageTracker{
		usage:  make(map[ProviderName]*providerUsage),
		logger: logger.WithName("rag-usage"),
		now:    time.Now,
	}
}

func (u *UsageTracker) entry(provider ProviderName) *providerUsage {
	e, ok := u.usage[provider]
	if !ok {
		e = &providerUsage{}
		u.usage[provider] = e
	}
	return e
}

// SetLimit enforces rpm requests per minute for provider; zero removes the limit
func (u *UsageTracker) SetLimit(provider ProviderName, rpm int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e := u.entry(provider)
	if e.limit == rpm {
		return
	}
	e.limit = rpm
	if rpm <= 0 {
		e.limiter = nil
		return
	}
	e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

// Wait blocks until provider may issue another request, then records it
func (u *UsageTracker) Wait(ctx context.Context, provider ProviderName) error {
	u.mu.Lock()
	limiter := u.entry(provider).limiter
	u.mu.Unlock()

	if limiter != nil {
		start := time.Now()
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		monitoring.ObserveRateLimitWait(string(provider), time.Since(start))
	}
	u.Track(provider)
	return nil
}

// Transport wraps next so every outbound request to provider goes through
// Wait exactly once. A nil next uses http.DefaultTransport.
func (u *UsageTracker) Transport(provider ProviderName, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &usageTransport{usage: u, provider: provider, next: next}
}

type usageTransport struct {
	usage    *UsageTracker
	provider ProviderName
	next     http.RoundTripper
}

func (t *usageTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.usage.Wait(req.Context(), t.provider); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// Track records one request and prunes the rolling window
func (u *UsageTracker) Track(provider ProviderName) {
	u.mu.Lock()
	now := u.now()
	e := u.entry(provider)
	e.total++
	e.recent = pruneBefore(e.recent, now.Add(-usageWindow))
	e.recent = append(e.recent, now)
	inWindow := len(e.recent)
	u.mu.Unlock()

	if inWindow > usageWarnThreshold {
		u.logger.WarnKV("High request rate to provider", "provider", provider, "requests_last_minute", inWindow)
	}
}

// Stats returns the counters for provider
func (u *UsageTracker) Stats(provider ProviderName) UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	e := u.entry(provider)
	e.recent = pruneBefore(e.recent, u.now().Add(-usageWindow))
	return UsageStats{TotalRequests: e.total, RequestsLastMinute: len(e.recent), RequestsPerMinute: e.limit}
}

// pruneBefore drops timestamps older than cutoff. Timestamps are appended in
// order, so the survivors are a suffix.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
