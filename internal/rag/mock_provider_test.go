package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMock() *MockProvider {
	return NewMockProvider(ProviderSettings{StoreName: "TestStore"}, Dependencies{})
}

func collect(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestMockQueryIsTopicSensitive(t *testing.T) {
	m := newTestMock()

	res, err := m.Query(context.Background(), QueryRequest{Question: "What is the response deadline?", State: "CO"})
	require.NoError(t, err)
	assert.Equal(t, "mock", res.Provider)
	assert.Equal(t, "mock-model", res.Model)
	assert.Equal(t, "CO", res.State)
	assert.Contains(t, res.Answer, "CO")
	assert.Contains(t, res.Answer, "respond")
	assert.Len(t, res.Citations, 2)

	fees, err := m.Query(context.Background(), QueryRequest{Question: "Can they charge a fee?"})
	require.NoError(t, err)
	assert.Contains(t, fees.Answer, "fee")
	assert.NotEqual(t, res.Answer, fees.Answer)
}

func TestMockQueryStreamOrder(t *testing.T) {
	m := newTestMock()
	req := QueryRequest{Question: "How do I appeal a denial?", State: "WA"}

	events := collect(t, m.QueryStream(context.Background(), req))
	require.GreaterOrEqual(t, len(events), 3)

	var text strings.Builder
	for _, ev := range events[:len(events)-2] {
		assert.Equal(t, EventChunk, ev.Type)
		text.WriteString(ev.Text)
	}
	citations := events[len(events)-2]
	done := events[len(events)-1]
	assert.Equal(t, EventCitations, citations.Type)
	assert.Equal(t, "WA", citations.State)
	assert.Len(t, citations.Citations, 2)
	assert.Equal(t, EventDone, done.Type)
	assert.Equal(t, "mock", done.Provider)

	full, err := m.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, full.Answer, text.String())
}

func TestMockQueryStreamStopsOnCancel(t *testing.T) {
	m := newTestMock()
	ctx, cancel := context.WithCancel(context.Background())

	ch := m.QueryStream(ctx, QueryRequest{Question: "deadline"})
	first := <-ch
	assert.Equal(t, EventChunk, first.Type)
	cancel()

	// the producer must close the channel once the consumer is gone
	collect(t, ch)
}

func TestMockConfigureFailure(t *testing.T) {
	m := newTestMock()
	m.ConfigureFailure(true, "boom")

	_, err := m.Query(context.Background(), QueryRequest{Question: "q"})
	require.Error(t, err)
	var apiErr *ProviderAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "boom")

	events := collect(t, m.QueryStream(context.Background(), QueryRequest{Question: "q"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)

	m.ConfigureFailure(false, "")
	_, err = m.Query(context.Background(), QueryRequest{Question: "q"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"query", "query_stream", "query"}, m.Calls())
}

func TestMockUploadFromReader(t *testing.T) {
	m := newTestMock()
	indexing := 0
	res := &Resource{
		ID:                 7,
		JurisdictionAbbrev: "CO",
		DisplayName:        "Colorado Open Records Act",
		FileName:           "cora.pdf",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("not really a pdf")), nil
		},
		OnIndexing: func() { indexing++ },
	}

	result, err := m.UploadResource(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.FileID, "mock-file-"))
	assert.True(t, strings.HasPrefix(result.StoreID, "mock-store-"))
	assert.Equal(t, 1, indexing)

	docs := m.Documents(result.FileID)
	require.Len(t, docs, 1)
	assert.Equal(t, "Colorado Open Records Act", docs[0].PageContent)

	// indexed documents replace the synthetic citations for their state
	answer, err := m.Query(context.Background(), QueryRequest{Question: "q", State: "CO"})
	require.NoError(t, err)
	assert.Equal(t, result.FileID, answer.Citations[0].FileID)

	other, err := m.Query(context.Background(), QueryRequest{Question: "q", State: "TX"})
	require.NoError(t, err)
	assert.Equal(t, "mock-file-law-guide", other.Citations[0].FileID)

	m.RemoveResource(context.Background(), res, result.FileID)
	assert.Empty(t, m.Documents(result.FileID))
}

func TestMockUploadWithoutFile(t *testing.T) {
	m := newTestMock()

	_, err := m.UploadResource(context.Background(), &Resource{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readable file")
}

func TestMockStoresAreIdempotent(t *testing.T) {
	m := newTestMock()

	a, err := m.GetOrCreateStore(context.Background(), "Store")
	require.NoError(t, err)
	b, err := m.GetOrCreateStore(context.Background(), "Store")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkWords(t *testing.T) {
	chunks := chunkWords("one two three four five six seven", 5)
	assert.Equal(t, []string{"one two three four five ", "six seven"}, chunks)
	assert.Empty(t, chunkWords("", 5))
}
