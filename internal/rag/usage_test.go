package rag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTransport struct{ calls int }

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	return rec.Result(), nil
}

func TestUsageTransportTracksEachRoundTrip(t *testing.T) {
	usage := NewUsageTracker(nil)
	next := &countingTransport{}
	client := &http.Client{Transport: usage.Transport(ProviderOpenAI, next)}

	for i := 0; i < 3; i++ {
		resp, err := client.Get("http://provider.test/v1/vector_stores")
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	assert.Equal(t, 3, next.calls)
	stats := usage.Stats(ProviderOpenAI)
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.Equal(t, 3, stats.RequestsLastMinute)
	assert.Zero(t, usage.Stats(ProviderGemini).TotalRequests)
}

func TestUsageTransportStopsWhenLimiterCannotWait(t *testing.T) {
	usage := NewUsageTracker(nil)
	usage.SetLimit(ProviderGemini, 1)
	next := &countingTransport{}
	rt := usage.Transport(ProviderGemini, next)

	req := httptest.NewRequest(http.MethodGet, "http://provider.test/", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rt.RoundTrip(req.WithContext(ctx))
	require.Error(t, err)

	assert.Equal(t, 1, next.calls)
	assert.EqualValues(t, 1, usage.Stats(ProviderGemini).TotalRequests)
	assert.Equal(t, 1, usage.Stats(ProviderGemini).RequestsPerMinute)
}
