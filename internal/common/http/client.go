// Package http provides an HTTP transport with retries, backoff, and logging capabilities
package http

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// ClientOptions configures the retry behavior
type ClientOptions struct {
	// Timeout bounds a whole exchange including reading the body. Zero leaves
	// it to the request context, which streaming callers need.
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// RetryTooManyRequests retries 429 responses. Callers that surface quota
	// errors to their users turn this off.
	RetryTooManyRequests bool
	// Transport is the round tripper each attempt goes through (tests inject spies here).
	Transport      http.RoundTripper
	RequestLogger  func(method, url string, attempt int)
	ResponseLogger func(statusCode int, err error)
}

// DefaultOptions returns sensible default client options
func DefaultOptions() ClientOptions {
	return ClientOptions{
		Timeout:              30 * time.Second,
		MaxRetries:           3,
		RetryBackoff:         500 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
		RetryTooManyRequests: true,
		RequestLogger:        func(_ string, _ string, _ int) {}, // nolint:revive // Using underscores for unused parameters
		ResponseLogger:       func(_ int, _ error) {},            // nolint:revive // Using underscores for unused parameters
	}
}

// Transport retries failed round trips with jittered exponential backoff.
// Requests with a body are replayed through GetBody.
type Transport struct {
	next    http.RoundTripper
	options ClientOptions
}

// NewTransport creates a retrying transport with the given options
func NewTransport(options ClientOptions) *Transport {
	if options.RequestLogger == nil {
		options.RequestLogger = func(_ string, _ string, _ int) {}
	}
	if options.ResponseLogger == nil {
		options.ResponseLogger = func(_ int, _ error) {}
	}
	next := options.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, options: options}
}

// NewClient wraps a retrying transport in an http.Client
func NewClient(options ClientOptions) *http.Client {
	return &http.Client{
		Timeout:   options.Timeout,
		Transport: NewTransport(options),
	}
}

// RoundTrip implements http.RoundTripper. The last attempt's response is
// returned as-is so callers still see non-2xx bodies.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	backoff := t.options.RetryBackoff

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; attempt <= t.options.MaxRetries; attempt++ {
		if err = t.applyBackoffDelay(ctx, attempt, &backoff); err != nil {
			return nil, err
		}
		attemptReq, rerr := rewind(req, attempt)
		if rerr != nil {
			return nil, rerr
		}

		t.options.RequestLogger(req.Method, req.URL.Redacted(), attempt)
		resp, err = t.next.RoundTrip(attemptReq)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		t.options.ResponseLogger(statusCode, err)

		if attempt == t.options.MaxRetries || !t.shouldRetryRequest(ctx, statusCode, err) || !replayable(req) {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}
	return resp, err
}

// rewind returns a request whose body can be read again for a retry
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func (t *Transport) applyBackoffDelay(ctx context.Context, attempt int, backoff *time.Duration) error {
	if attempt <= 0 {
		return nil
	}

	// Jitter keeps concurrent retries from synchronizing
	sleepTime := *backoff
	if maxJitter := int64(*backoff) / 2; maxJitter > 0 {
		randomBig, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			return fmt.Errorf("failed to generate secure random number: %w", err)
		}
		sleepTime += time.Duration(randomBig.Int64())
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleepTime):
	}

	*backoff *= 2
	if *backoff > t.options.MaxBackoff {
		*backoff = t.options.MaxBackoff
	}
	return nil
}

func (t *Transport) shouldRetryRequest(ctx context.Context, statusCode int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return true
	}
	if statusCode >= 200 && statusCode < 300 {
		return false
	}
	if statusCode == http.StatusTooManyRequests {
		return t.options.RetryTooManyRequests
	}
	// 4xx are final; 5xx are retried
	return statusCode >= 500
}
