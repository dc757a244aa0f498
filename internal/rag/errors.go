package rag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter is used when a quota error carries no usable delay
const DefaultRetryAfter = 60 * time.Second

// ProviderConfigError reports a configuration problem: unknown provider,
// missing key, or a disabled API. It is never retried automatically.
type ProviderConfigError struct {
	Provider ProviderName
	Message  string
}

func (e *ProviderConfigError) Error() string {
	if e.Provider == "" {
		return "provider config error: " + e.Message
	}
	return fmt.Sprintf("%s provider config error: %s", e.Provider, e.Message)
}

// ProviderAPIError reports a failed call to the backing provider
type ProviderAPIError struct {
	Provider   ProviderName
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderAPIError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	} else if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *ProviderAPIError) Unwrap() error {
	return e.Err
}

// APIDisabledError is returned instead of making a network call while the
// provider's real-API switch is off.
type APIDisabledError struct {
	Provider ProviderName
}

func (e *APIDisabledError) Error() string {
	return fmt.Sprintf("%s API calls are disabled; set %s_REAL_API_ENABLED=true to enable them",
		e.Provider, strings.ToUpper(string(e.Provider)))
}

// Unwrap makes errors.As(err, **ProviderConfigError) match
func (e *APIDisabledError) Unwrap() error {
	return &ProviderConfigError{Provider: e.Provider, Message: "real API disabled"}
}

// QuotaExceededError reports an upstream rate limit or exhausted quota
type QuotaExceededError struct {
	Provider   ProviderName
	RetryAfter time.Duration
	Err        error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded, retry in %ds", e.Provider, e.RetryAfterSeconds())
}

// Unwrap makes errors.As(err, **ProviderAPIError) match
func (e *QuotaExceededError) Unwrap() error {
	return &ProviderAPIError{Provider: e.Provider, Op: "request", StatusCode: 429, Err: e.Err}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds
func (e *QuotaExceededError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs <= 0 {
		return int(DefaultRetryAfter / time.Second)
	}
	return secs
}

func configErrorf(provider ProviderName, format string, args ...interface{}) *ProviderConfigError {
	return &ProviderConfigError{Provider: provider, Message: fmt.Sprintf(format, args...)}
}

var retryInPattern = regexp.MustCompile(`(?i)(?:retry|try again) in\s+(\d+(?:\.\d+)?)\s*s`)

// parseRetryAfter extracts "retry in N s" from provider error text
func parseRetryAfter(text string) time.Duration {
	m := retryInPattern.FindStringSubmatch(text)
	if m == nil {
		return DefaultRetryAfter
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}

// parseRetryDelay reads a google.rpc.RetryInfo duration such as "17s" or "0.5s"
func parseRetryDelay(delay string) (time.Duration, bool) {
	if delay == "" {
		return 0, false
	}
	d, err := time.ParseDuration(delay)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// looksLikeQuota recognizes quota failures in error text from sources that
// expose no status code, such as mid-stream error events.
func looksLikeQuota(text string) bool {
	return strings.Contains(text, "429") || strings.Contains(text, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(text), "rate_limit_exceeded")
}
