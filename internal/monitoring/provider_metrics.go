package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotaErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foiacoach_quota_errors_total",
			Help: "Total number of provider quota or rate limit rejections",
		},
		[]string{"provider"},
	)

	rateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foiacoach_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the local per-provider rate limiter",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	retryAfter = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foiacoach_retry_after_seconds",
			Help: "Most recent retry-after delay reported by a provider",
		},
		[]string{"provider"},
	)

	providerCacheClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foiacoach_provider_cache_clears_total",
			Help: "Total number of provider cache resets",
		},
	)
)

// RecordQuotaError records a quota rejection and the delay the provider asked for
func RecordQuotaError(provider string, delay time.Duration) {
	quotaErrors.WithLabelValues(provider).Inc()
	retryAfter.WithLabelValues(provider).Set(delay.Seconds())
}

// ObserveRateLimitWait records time spent blocked on the local limiter
func ObserveRateLimitWait(provider string, wait time.Duration) {
	rateLimitWait.WithLabelValues(provider).Observe(wait.Seconds())
}

// RecordProviderCacheClear records a provider cache reset
func RecordProviderCacheClear() {
	providerCacheClears.Inc()
}
