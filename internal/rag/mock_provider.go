package rag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

const mockChunkWords = 5

// MockProvider is an in-memory provider for tests and safe local runs. It
// never touches the network regardless of the real-API switch.
type MockProvider struct {
	config ProviderSettings
	logger *logging.Logger

	mu          sync.Mutex
	stores      map[string]string // display name -> store id
	documents   map[string][]schema.Document
	shouldFail  bool
	failMessage string
	calls       []string
}

// NewMockProvider creates a mock provider
func NewMockProvider(settings ProviderSettings, deps Dependencies) *MockProvider {
	if settings.Model == "" {
		settings.Model = "mock-model"
	}
	return &MockProvider{
		config:    settings,
		logger:    deps.logger().WithName("rag-mock"),
		stores:    make(map[string]string),
		documents: make(map[string][]schema.Document),
	}
}

// Name implements Provider
func (m *MockProvider) Name() ProviderName { return ProviderMock }

// ConfigureFailure makes every subsequent operation fail with message until
// called again with shouldFail=false.
func (m *MockProvider) ConfigureFailure(shouldFail bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
	m.failMessage = message
}

// Calls returns the operations invoked so far, in order
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Documents returns the indexed chunks for a file id
func (m *MockProvider) Documents(fileID string) []schema.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.Document(nil), m.documents[fileID]...)
}

func (m *MockProvider) begin(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	if m.shouldFail {
		msg := m.failMessage
		if msg == "" {
			msg = "mock provider configured to fail"
		}
		return &ProviderAPIError{Provider: ProviderMock, Op: op, Message: msg}
	}
	return nil
}

// CreateStore implements Provider
func (m *MockProvider) CreateStore(_ context.Context, displayName string) (string, error) {
	if err := m.begin("create_store"); err != nil {
		return "", err
	}
	id := "mock-store-" + uuid.NewString()
	m.mu.Lock()
	m.stores[displayName] = id
	m.mu.Unlock()
	m.logger.InfoKV("Created mock store", "name", displayName, "store_id", id)
	return id, nil
}

// GetOrCreateStore implements Provider
func (m *MockProvider) GetOrCreateStore(_ context.Context, displayName string) (string, error) {
	if err := m.begin("get_or_create_store"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.stores[displayName]; ok {
		return id, nil
	}
	id := "mock-store-" + uuid.NewString()
	m.stores[displayName] = id
	return id, nil
}

// UploadResource implements Provider. PDFs are parsed and split so later
// answers can quote them; unreadable files are indexed by name only.
func (m *MockProvider) UploadResource(ctx context.Context, res *Resource) (*UploadResult, error) {
	if err := m.begin("upload_resource"); err != nil {
		return nil, err
	}
	storeID, err := m.GetOrCreateStore(ctx, m.config.StoreName)
	if err != nil {
		return nil, err
	}

	var docs []schema.Document
	err = withLocalFile(res, m.logger, func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		docs = m.splitDocument(ctx, res, data)
		return nil
	})
	if err != nil {
		return nil, &ProviderAPIError{Provider: ProviderMock, Op: "upload_resource", Err: err}
	}

	if res.OnIndexing != nil {
		res.OnIndexing()
	}

	fileID := "mock-file-" + uuid.NewString()
	m.mu.Lock()
	m.documents[fileID] = docs
	m.mu.Unlock()

	m.logger.InfoKV("Indexed resource in mock store", "resource_id", res.ID, "file_id", fileID, "chunks", len(docs))
	return &UploadResult{
		FileID:  fileID,
		StoreID: storeID,
		Metadata: map[string]interface{}{
			"store_name": m.config.StoreName,
			"chunks":     len(docs),
			"mock":       true,
		},
	}, nil
}

func (m *MockProvider) splitDocument(ctx context.Context, res *Resource, data []byte) []schema.Document {
	meta := map[string]any{
		"resource_id":         res.ID,
		"jurisdiction_abbrev": res.JurisdictionAbbrev,
		"display_name":        res.DisplayName,
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(1000),
		textsplitter.WithChunkOverlap(200),
	)
	docs, err := loadPDF(ctx, data, splitter)
	if err != nil || len(docs) == 0 {
		m.logger.DebugKV("Indexing resource by name only", "resource_id", res.ID, "error", err)
		return []schema.Document{{PageContent: res.DisplayName, Metadata: meta}}
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		for k, v := range meta {
			docs[i].Metadata[k] = v
		}
		docs[i].Metadata["chunk_index"] = i
	}
	return docs
}

// loadPDF extracts and splits PDF text. The PDF parser panics on some
// malformed files, so that is turned into an error.
func loadPDF(ctx context.Context, data []byte, splitter textsplitter.TextSplitter) (docs []schema.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))
	return loader.LoadAndSplit(ctx, splitter)
}

// RemoveResource implements Provider
func (m *MockProvider) RemoveResource(_ context.Context, res *Resource, fileID string) {
	if fileID == "" {
		return
	}
	if err := m.begin("remove_resource"); err != nil {
		m.logger.WarnKV("Failed to remove mock file", "resource_id", res.ID, "file_id", fileID, "error", err)
		return
	}
	m.mu.Lock()
	delete(m.documents, fileID)
	m.mu.Unlock()
}

// Query implements Provider
func (m *MockProvider) Query(_ context.Context, req QueryRequest) (*QueryResult, error) {
	if err := m.begin("query"); err != nil {
		return nil, err
	}
	return &QueryResult{
		Answer:    mockAnswer(req.Question, req.State),
		Citations: m.citations(req.State),
		Provider:  string(ProviderMock),
		Model:     modelFor(req, m.config.Model),
		State:     req.State,
	}, nil
}

// QueryStream implements Provider
func (m *MockProvider) QueryStream(ctx context.Context, req QueryRequest) <-chan StreamEvent {
	if err := m.begin("query_stream"); err != nil {
		return errorStream(err)
	}
	answer := mockAnswer(req.Question, req.State)
	citations := m.citations(req.State)
	model := modelFor(req, m.config.Model)

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		out := streamEmitter{ctx: ctx, ch: ch}
		for _, chunk := range chunkWords(answer, mockChunkWords) {
			if !out.send(StreamEvent{Type: EventChunk, Text: chunk}) {
				return
			}
		}
		if !out.send(StreamEvent{Type: EventCitations, Citations: citations, State: req.State}) {
			return
		}
		out.send(StreamEvent{Type: EventDone, Provider: string(ProviderMock), Model: model})
	}()
	return ch
}

// Info implements Provider
func (m *MockProvider) Info() Info {
	m.mu.Lock()
	stores := len(m.stores)
	files := len(m.documents)
	m.mu.Unlock()
	return Info{
		Provider:       ProviderMock,
		Model:          m.config.Model,
		StoreName:      m.config.StoreName,
		RealAPIEnabled: m.config.RealAPIEnabled,
		Config: map[string]interface{}{
			"stores":        stores,
			"indexed_files": files,
		},
	}
}

// citations returns two synthetic citations, quoting indexed chunks for the
// state when there are any.
func (m *MockProvider) citations(state string) []Citation {
	scope := state
	if scope == "" {
		scope = "General"
	}
	citations := []Citation{
		{Source: fmt.Sprintf("%s Public Records Law Guide", scope), FileID: "mock-file-law-guide", DisplayName: scope + " Public Records Law Guide"},
		{Source: fmt.Sprintf("%s Request Tips", scope), FileID: "mock-file-request-tips", DisplayName: scope + " Request Tips"},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fileIDs := make([]string, 0, len(m.documents))
	for id := range m.documents {
		fileIDs = append(fileIDs, id)
	}
	sort.Strings(fileIDs)
	n := 0
	for _, id := range fileIDs {
		docs := m.documents[id]
		if len(docs) == 0 || n >= len(citations) {
			continue
		}
		if abbrev, _ := docs[0].Metadata["jurisdiction_abbrev"].(string); state != "" && abbrev != state {
			continue
		}
		name, _ := docs[0].Metadata["display_name"].(string)
		citations[n] = Citation{Source: firstNonEmpty(name, id), FileID: id, DisplayName: name, Quote: truncate(docs[0].PageContent, 200)}
		n++
	}
	return citations
}

var mockTopics = []struct {
	keywords []string
	answer   string
}{
	{
		keywords: []string{"deadline", "how long", "response time", "days"},
		answer: `Agencies in %s must respond to a public records request within a set period,
			usually a few business days. If the agency needs more time it must tell you in writing
			and explain why. Keep a copy of your request and note the date you sent it so you can
			follow up when the deadline passes.`,
	},
	{
		keywords: []string{"fee", "cost", "charge", "waiver"},
		answer: `Agencies in %s may charge reasonable fees for search, review and copying. Ask
			for a fee estimate before work begins and request a fee waiver if disclosure is in
			the public interest or you are a journalist or researcher.`,
	},
	{
		keywords: []string{"exempt", "withhold", "redact"},
		answer: `Public records laws in %s list specific exemptions such as personal privacy,
			ongoing investigations and trade secrets. An agency that withholds or redacts records
			should cite the exemption it relies on, and it must release any part of a record
			that is not exempt.`,
	},
	{
		keywords: []string{"appeal", "denied", "denial", "reject"},
		answer: `If your request in %s is denied you can usually file an administrative appeal
			with the agency head or a review office. Appeals are often due within a limited time,
			so act quickly and quote the exemption the agency cited.`,
	},
}

const mockGeneralAnswer = `Public records law in %s gives anyone the right to ask agencies for
	records they hold. Describe the records you want as specifically as you can, send the
	request to the agency's records officer, and keep track of the dates and replies.`

// mockAnswer picks a canned, topic-sensitive answer with whitespace
// normalized, so joined stream chunks reproduce it exactly.
func mockAnswer(question, state string) string {
	where := state
	if where == "" {
		where = "your jurisdiction"
	}
	q := strings.ToLower(question)
	template := mockGeneralAnswer
	for _, topic := range mockTopics {
		if containsAny(q, topic.keywords) {
			template = topic.answer
			break
		}
	}
	return strings.Join(strings.Fields(fmt.Sprintf(template, where)), " ")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// chunkWords splits text into chunks of n words. Every chunk but the last
// keeps a trailing space.
func chunkWords(text string, n int) []string {
	words := strings.Fields(text)
	chunks := make([]string, 0, len(words)/n+1)
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
