package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muckrock/foia-coach-api/internal/coach"
	"github.com/muckrock/foia-coach-api/internal/config"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

// readyStates marks the mock provider ready for the listed states
type readyStates map[string]bool

func (r readyStates) HasReadyResources(_ context.Context, provider, state string) (bool, error) {
	return provider == string(rag.ProviderMock) && r[state], nil
}

func newTestServer(t *testing.T, transport string) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.MCP.Transport = transport
	providers := rag.NewProviderCache(rag.NewFactory(cfg.RAG, rag.Dependencies{}))
	svc := coach.NewService(providers, readyStates{"CO": true}, nil, nil)
	return NewServer(cfg.MCP, "test", svc, providers, nil)
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

func TestQueryTool(t *testing.T) {
	s := newTestServer(t, TransportSSE)

	tests := []struct {
		name     string
		args     map[string]interface{}
		isError  bool
		contains []string
	}{
		{
			name:     "answers for a ready state",
			args:     map[string]interface{}{"question": "What is the deadline?", "state": "co"},
			contains: []string{"Sources:", "Answered by mock"},
		},
		{
			name:     "falls back from the requested provider",
			args:     map[string]interface{}{"question": "What is the deadline?", "state": "CO", "provider": "gemini"},
			contains: []string{"falling back from gemini"},
		},
		{
			name:     "missing question",
			args:     map[string]interface{}{"state": "CO"},
			isError:  true,
			contains: []string{"question is required"},
		},
		{
			name:     "no resources for state",
			args:     map[string]interface{}{"question": "What is the deadline?", "state": "TX"},
			isError:  true,
			contains: []string{"TX"},
		},
		{
			name:     "unknown provider",
			args:     map[string]interface{}{"question": "hi", "provider": "claude"},
			isError:  true,
			contains: []string{"claude"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.instrument(ToolQuery, s.handleQuery)(context.Background(), callRequest(ToolQuery, tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.isError, res.IsError)
			text := resultText(t, res)
			for _, want := range tt.contains {
				assert.Contains(t, text, want)
			}
		})
	}
}

func TestProvidersTool(t *testing.T) {
	s := newTestServer(t, TransportSSE)

	res, err := s.handleProviders(context.Background(), callRequest(ToolProviders, nil))
	require.NoError(t, err)

	var body struct {
		Default   string               `json:"default"`
		Providers []rag.ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	assert.Equal(t, "mock", body.Default)
	assert.Len(t, body.Providers, 3)
}

func TestFormatAnswer(t *testing.T) {
	out := formatAnswer(&rag.QueryResult{
		Answer:            "Ten business days.",
		Citations:         []rag.Citation{{Source: "CO Guide"}, {Source: "raw", DisplayName: "CO Tips"}},
		Provider:          "mock",
		Model:             "mock-model",
		FallbackUsed:      true,
		RequestedProvider: "openai",
	})
	assert.Equal(t, "Ten business days.\n\nSources:\n- CO Guide\n- CO Tips\n\nAnswered by mock (mock-model), falling back from openai", out)
}

func TestHandlerTransports(t *testing.T) {
	for _, transport := range []string{TransportSSE, TransportHTTP} {
		h, err := newTestServer(t, transport).Handler()
		require.NoError(t, err, transport)
		assert.Implements(t, (*http.Handler)(nil), h)
	}

	_, err := newTestServer(t, TransportStdio).Handler()
	assert.Error(t, err)
}

func TestSSEEndpointServes(t *testing.T) {
	h, err := newTestServer(t, TransportSSE).Handler()
	require.NoError(t, err)

	// the message endpoint rejects calls without a session
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/message", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
