// Package rag provides the provider abstraction for FOIA Coach retrieval-augmented answers
package rag

import (
	"context"
	"io"
)

// ProviderName identifies one of the fixed set of RAG backends
type ProviderName string

// Registered providers
const (
	ProviderOpenAI ProviderName = "openai"
	ProviderGemini ProviderName = "gemini"
	ProviderMock   ProviderName = "mock"
)

// FallbackOrder is the fixed candidate order used when the requested
// provider cannot answer.
var FallbackOrder = []ProviderName{ProviderOpenAI, ProviderGemini, ProviderMock}

// ParseProviderName validates a provider name string
func ParseProviderName(name string) (ProviderName, bool) {
	switch p := ProviderName(name); p {
	case ProviderOpenAI, ProviderGemini, ProviderMock:
		return p, true
	}
	return "", false
}

// Provider defines the operations every RAG backend must support
type Provider interface {
	// Name echoes the provider identifier the instance was built for
	Name() ProviderName

	// Store lifecycle
	CreateStore(ctx context.Context, displayName string) (string, error)
	GetOrCreateStore(ctx context.Context, displayName string) (string, error)

	// Document management. UploadResource only transfers data; it never
	// writes upload status. RemoveResource never fails: errors are logged.
	UploadResource(ctx context.Context, res *Resource) (*UploadResult, error)
	RemoveResource(ctx context.Context, res *Resource, fileID string)

	// Question answering
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
	QueryStream(ctx context.Context, req QueryRequest) <-chan StreamEvent

	// Info is side-effect free introspection
	Info() Info
}

// Resource is the provider-facing view of a jurisdiction document
type Resource struct {
	ID                 uint
	JurisdictionAbbrev string
	ResourceType       string
	DisplayName        string
	Description        string
	FileName           string

	// StoreID is the store a previous upload landed in, used for removal
	StoreID string

	// Path is set when the file lives on a local filesystem. Providers fall
	// back to Open when it is empty.
	Path string
	Open func() (io.ReadCloser, error)

	// OnIndexing is called once the bytes are transferred and the provider
	// starts waiting for its index to process them.
	OnIndexing func()
}

// UploadResult is what a provider returns after transferring a resource
type UploadResult struct {
	FileID   string
	StoreID  string
	Metadata map[string]interface{}
}

// QueryRequest carries a question and its optional scope and overrides
type QueryRequest struct {
	Question     string
	State        string
	Context      map[string]interface{}
	Model        string
	SystemPrompt string
}

// QueryResult is the normalized answer shape shared by every provider
type QueryResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	State     string     `json:"state,omitempty"`

	FallbackUsed      bool   `json:"fallback_used"`
	RequestedProvider string `json:"requested_provider,omitempty"`
	ActualProvider    string `json:"actual_provider,omitempty"`
}

// Citation references the document span backing part of an answer
type Citation struct {
	Source      string `json:"source"`
	FileID      string `json:"file_id,omitempty"`
	Text        string `json:"text,omitempty"`
	StartIndex  *int   `json:"start_index,omitempty"`
	EndIndex    *int   `json:"end_index,omitempty"`
	Quote       string `json:"quote,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// StreamEventType tags a StreamEvent
type StreamEventType string

// Stream event kinds, in the order a successful stream yields them
const (
	EventChunk     StreamEventType = "chunk"
	EventCitations StreamEventType = "citations"
	EventDone      StreamEventType = "done"
	EventError     StreamEventType = "error"
)

// StreamEvent is one element of a streamed answer. A stream yields zero or
// more chunks, then one citations event, then one done event; an error event
// replaces whatever remains and is always last.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Text      string          `json:"text,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
	State     string          `json:"state,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Model     string          `json:"model,omitempty"`
	Err       error           `json:"-"`
}

// Info describes a configured provider
type Info struct {
	Provider       ProviderName           `json:"provider"`
	Model          string                 `json:"model"`
	StoreName      string                 `json:"store_name"`
	RealAPIEnabled bool                   `json:"real_api_enabled"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// streamEmitter sends events on a stream channel until the consumer goes away.
type streamEmitter struct {
	ctx context.Context
	ch  chan<- StreamEvent
}

// send reports false once ctx is done; producers stop at that point.
func (e streamEmitter) send(ev StreamEvent) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e streamEmitter) fail(err error) {
	e.send(StreamEvent{Type: EventError, Err: err})
}

// errorStream returns a closed stream holding a single error event
func errorStream(err error) <-chan StreamEvent {
	ch := make(chan StreamEvent, 1)
	ch <- StreamEvent{Type: EventError, Err: err}
	close(ch)
	return ch
}
