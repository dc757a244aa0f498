// Package monitoring exposes Prometheus metrics for queries and uploads
package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const prefix = "foiacoach_"

const (
	MetricLabelProvider  = "provider"
	MetricLabelOutcome   = "outcome"
	MetricLabelStatus    = "status"
	MetricLabelRequested = "requested"
	MetricLabelActual    = "actual"
	MetricLabelRoute     = "route"
	MetricLabelCode      = "code"
	MetricLabelTool      = "tool"
	MetricLabelError     = "error"
)

var (
	QueryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%squery_requests_total", prefix),
			Help: "Total number of provider query attempts by outcome",
		},
		[]string{MetricLabelProvider, MetricLabelOutcome},
	)
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%squery_duration_seconds", prefix),
			Help:    "Histogram of provider query latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{MetricLabelProvider},
	)
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%sfallbacks_total", prefix),
			Help: "Total number of answers served by a provider other than the one requested",
		},
		[]string{MetricLabelRequested, MetricLabelActual},
	)
	UploadTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%supload_transitions_total", prefix),
			Help: "Total number of upload status transitions",
		},
		[]string{MetricLabelProvider, MetricLabelStatus},
	)
	UploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%supload_duration_seconds", prefix),
			Help:    "Time from uploading to ready or error",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{MetricLabelProvider, MetricLabelOutcome},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%shttp_requests_total", prefix),
			Help: "Total number of API requests by route and status code",
		},
		[]string{MetricLabelRoute, MetricLabelCode},
	)
	ToolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%stool_invocations_total", prefix),
			Help: "Total number of MCP tool invocations",
		},
		[]string{MetricLabelTool, MetricLabelError},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(
		QueryRequests,
		QueryDuration,
		Fallbacks,
		UploadTransitions,
		UploadDuration,
		HTTPRequests,
		ToolInvocations,
	)
}

// ObserveQuery records one provider attempt
func ObserveQuery(provider, outcome string, duration time.Duration) {
	QueryRequests.WithLabelValues(provider, outcome).Inc()
	QueryDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordFallback records an answer served by a fallback provider
func RecordFallback(requested, actual string) {
	Fallbacks.WithLabelValues(requested, actual).Inc()
}

// RecordUploadTransition counts an upload entering status
func RecordUploadTransition(provider, status string) {
	UploadTransitions.WithLabelValues(provider, status).Inc()
}

// ObserveUploadDuration records how long an upload took to settle
func ObserveUploadDuration(provider, outcome string, duration time.Duration) {
	UploadDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one API response
func RecordHTTPRequest(route string, code int) {
	HTTPRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
}

// RecordToolInvocation counts one MCP tool call
func RecordToolInvocation(tool string, failed bool) {
	ToolInvocations.With(prometheus.Labels{
		MetricLabelTool:  tool,
		MetricLabelError: fmt.Sprint(failed),
	}).Inc()
}
