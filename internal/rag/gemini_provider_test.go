package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

const groundedResponse = `{
  "candidates": [{
    "content": {"role": "model", "parts": [{"text": "Colorado agencies have three working days."}]},
    "groundingMetadata": {
      "groundingChunks": [
        {"retrievedContext": {"title": "cora.pdf", "text": "within three working days", "documentName": "fileSearchStores/abc/documents/doc1"}},
        {"retrievedContext": {"title": "cora.pdf", "text": "within three working days"}},
        {"retrievedContext": {"title": "tips.pdf", "text": "keep copies"}}
      ],
      "groundingSupports": [
        {"segment": {"startIndex": 0, "endIndex": 41, "text": "Colorado agencies have three working days"}, "groundingChunkIndices": [0]}
      ]
    }
  }]
}`

// generateBody is the generateContent request as it goes over the wire
type generateBody struct {
	Contents          []*genai.Content `json:"contents"`
	SystemInstruction *genai.Content   `json:"systemInstruction"`
	Tools             []*genai.Tool    `json:"tools"`
}

type uploadBody struct {
	DisplayName    string                 `json:"displayName"`
	MIMEType       string                 `json:"mimeType"`
	CustomMetadata []genai.CustomMetadata `json:"customMetadata"`
}

type fakeGemini struct {
	t   *testing.T
	url string

	mu          sync.Mutex
	hits        int
	queries     []generateBody
	uploadMeta  uploadBody
	uploadBytes []byte
	deleted     []string
	polls       int
}

func (f *fakeGemini) requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "test-key", r.Header.Get("x-goog-api-key"))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1beta/fileSearchStores":
		fmt.Fprint(w, `{"fileSearchStores":[{"name":"fileSearchStores/other","displayName":"Other"},{"name":"fileSearchStores/abc","displayName":"TestStore"}]}`)

	case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/fileSearchStores/abc:uploadToFileSearchStore":
		assert.Equal(f.t, "resumable", r.Header.Get("X-Goog-Upload-Protocol"))
		assert.Equal(f.t, "start", r.Header.Get("X-Goog-Upload-Command"))
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.uploadMeta))
		w.Header().Set("X-Goog-Upload-Url", f.url+"/resumable/upload1")
		fmt.Fprint(w, `{}`)

	case r.Method == http.MethodPost && r.URL.Path == "/resumable/upload1":
		assert.Equal(f.t, "upload, finalize", r.Header.Get("X-Goog-Upload-Command"))
		f.uploadBytes, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Goog-Upload-Status", "final")
		fmt.Fprint(w, `{"name":"fileSearchStores/abc/upload/operations/op1","done":false}`)

	case r.Method == http.MethodGet && r.URL.Path == "/v1beta/fileSearchStores/abc/upload/operations/op1":
		f.polls++
		if f.polls < 2 {
			fmt.Fprint(w, `{"name":"fileSearchStores/abc/upload/operations/op1","done":false}`)
			return
		}
		fmt.Fprint(w, `{"name":"fileSearchStores/abc/upload/operations/op1","done":true,"response":{"documentName":"fileSearchStores/abc/documents/doc1"}}`)

	case r.Method == http.MethodDelete:
		assert.Equal(f.t, "true", r.URL.Query().Get("force"))
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/v1beta/"))
		fmt.Fprint(w, `{}`)

	case r.Method == http.MethodPost && r.URL.Path == "/v1beta/models/gemini-2.5-flash:generateContent":
		var req generateBody
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.queries = append(f.queries, req)
		fmt.Fprint(w, groundedResponse)

	case r.Method == http.MethodPost && r.URL.Path == "/v1beta/models/gemini-2.5-flash:streamGenerateContent":
		assert.Equal(f.t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Colorado agencies \"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: "+strings.Join(strings.Fields(groundedResponse), " ")+"\r\n\r\n")

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestGemini(t *testing.T, handler http.Handler) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if fake, ok := handler.(*fakeGemini); ok {
		fake.url = srv.URL
	}
	return NewGeminiProvider(ProviderSettings{
		APIKey:            "test-key",
		Model:             "gemini-2.5-flash",
		StoreName:         "TestStore",
		BaseURL:           srv.URL,
		RealAPIEnabled:    true,
		ProcessingTimeout: 5 * time.Second,
		PollInterval:      10 * time.Millisecond,
	}, Dependencies{})
}

func TestGeminiQueryWithCitations(t *testing.T) {
	fake := &fakeGemini{t: t}
	g := newTestGemini(t, fake)

	res, err := g.Query(context.Background(), QueryRequest{Question: "How long do they have?", State: "CO"})
	require.NoError(t, err)

	assert.Equal(t, "Colorado agencies have three working days.", res.Answer)
	assert.Equal(t, "gemini", res.Provider)
	assert.Equal(t, "gemini-2.5-flash", res.Model)

	require.Len(t, res.Citations, 2)
	first := res.Citations[0]
	assert.Equal(t, "cora.pdf", first.Source)
	assert.Equal(t, "cora", first.DisplayName)
	assert.Equal(t, "fileSearchStores/abc/documents/doc1", first.FileID)
	require.NotNil(t, first.StartIndex)
	assert.Equal(t, 41, *first.EndIndex)
	assert.Nil(t, res.Citations[1].StartIndex)

	require.Len(t, fake.queries, 1)
	tool := fake.queries[0].Tools[0].FileSearch
	require.NotNil(t, tool)
	assert.Equal(t, []string{"fileSearchStores/abc"}, tool.FileSearchStoreNames)
	assert.Equal(t, `jurisdiction_abbrev = "CO"`, tool.MetadataFilter)
	assert.Contains(t, fake.queries[0].Contents[0].Parts[0].Text, "Jurisdiction: CO")
	assert.Equal(t, CoachSystemPrompt, fake.queries[0].SystemInstruction.Parts[0].Text)
}

func TestGeminiQueryWithoutStateHasNoFilter(t *testing.T) {
	fake := &fakeGemini{t: t}
	g := newTestGemini(t, fake)

	_, err := g.Query(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	assert.Empty(t, fake.queries[0].Tools[0].FileSearch.MetadataFilter)
}

func TestGeminiUploadPollsOperation(t *testing.T) {
	fake := &fakeGemini{t: t}
	g := newTestGemini(t, fake)

	path := filepath.Join(t.TempDir(), "cora.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o600))

	indexing := false
	res := &Resource{ID: 42, JurisdictionAbbrev: "CO", ResourceType: "law", DisplayName: "CORA", Path: path,
		OnIndexing: func() { indexing = true }}
	result, err := g.UploadResource(context.Background(), res)
	require.NoError(t, err)

	assert.True(t, indexing)
	assert.Equal(t, "fileSearchStores/abc/documents/doc1", result.FileID)
	assert.Equal(t, "fileSearchStores/abc", result.StoreID)
	assert.Equal(t, 2, fake.polls)
	assert.Equal(t, []byte("%PDF-1.4 test"), fake.uploadBytes)
	assert.Equal(t, "cora.pdf", fake.uploadMeta.DisplayName)
	assert.Equal(t, "application/pdf", fake.uploadMeta.MIMEType)
	assert.Contains(t, fake.uploadMeta.CustomMetadata, genai.CustomMetadata{Key: "jurisdiction_abbrev", StringValue: "CO"})
	assert.Contains(t, fake.uploadMeta.CustomMetadata, genai.CustomMetadata{Key: "resource_id", StringValue: "42"})

	g.RemoveResource(context.Background(), res, result.FileID)
	assert.Equal(t, []string{"fileSearchStores/abc/documents/doc1"}, fake.deleted)
}

func TestGeminiQueryStream(t *testing.T) {
	g := newTestGemini(t, &fakeGemini{t: t})

	events := collect(t, g.QueryStream(context.Background(), QueryRequest{Question: "q", State: "CO"}))
	require.Len(t, events, 4)
	assert.Equal(t, EventChunk, events[0].Type)
	assert.Equal(t, "Colorado agencies ", events[0].Text)
	assert.Equal(t, EventChunk, events[1].Type)
	assert.Equal(t, EventCitations, events[2].Type)
	assert.Len(t, events[2].Citations, 2)
	assert.Equal(t, EventDone, events[3].Type)
	assert.Equal(t, "gemini", events[3].Provider)
}

func TestGeminiQuotaExceeded(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{
			name: "retry info detail",
			body: `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"17s"}]}}`,
			want: 17 * time.Second,
		},
		{
			name: "message text",
			body: `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded. Please retry in 23s."}}`,
			want: 23 * time.Second,
		},
		{
			name: "default",
			body: `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded"}}`,
			want: DefaultRetryAfter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			g := newTestGemini(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					fmt.Fprint(w, `{"fileSearchStores":[{"name":"fileSearchStores/abc","displayName":"TestStore"}]}`)
					return
				}
				calls++
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, tt.body)
			}))

			_, err := g.Query(context.Background(), QueryRequest{Question: "q"})
			var quota *QuotaExceededError
			require.True(t, errors.As(err, &quota), "got %v", err)
			assert.Equal(t, tt.want, quota.RetryAfter)
			assert.Equal(t, ProviderGemini, quota.Provider)
			assert.Equal(t, 1, calls, "quota errors must not be retried")
		})
	}
}

func TestGeminiServerErrorIsAPIError(t *testing.T) {
	g := newTestGemini(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"status":"PERMISSION_DENIED","message":"API key invalid"}}`)
	}))

	_, err := g.GetOrCreateStore(context.Background(), "TestStore")
	var apiErr *ProviderAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "API key invalid", apiErr.Message)
}

func TestGeminiUsageCountsEachRequestOnce(t *testing.T) {
	fake := &fakeGemini{t: t}
	g := newTestGemini(t, fake)

	_, err := g.Query(context.Background(), QueryRequest{Question: "q", State: "CO"})
	require.NoError(t, err)
	// store lookup plus generateContent
	assert.Equal(t, 2, fake.requests())
	assert.EqualValues(t, fake.requests(), g.usage.Stats(ProviderGemini).TotalRequests)

	_, err = g.Query(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 3, fake.requests())
	assert.EqualValues(t, 3, g.usage.Stats(ProviderGemini).TotalRequests)
}

func TestGeminiUsageCountsRetriedAttempts(t *testing.T) {
	var calls int
	var mu sync.Mutex
	g := newTestGemini(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"code":503,"status":"UNAVAILABLE","message":"try later"}}`)
			return
		}
		fmt.Fprint(w, `{"fileSearchStores":[{"name":"fileSearchStores/abc","displayName":"TestStore"}]}`)
	}))

	name, err := g.GetOrCreateStore(context.Background(), "TestStore")
	require.NoError(t, err)
	assert.Equal(t, "fileSearchStores/abc", name)
	assert.EqualValues(t, 2, g.usage.Stats(ProviderGemini).TotalRequests)
}
