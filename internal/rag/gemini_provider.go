package rag

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

// geminiOperationMarker marks a file id that still names a pending upload
// operation rather than a document.
const geminiOperationMarker = "/operations/"

// GeminiProvider answers from a Gemini File Search store
type GeminiProvider struct {
	client    *geminiClient
	clientErr error
	settings  ProviderSettings
	logger    *logging.Logger
	usage     *UsageTracker

	mu     sync.Mutex
	stores map[string]string // display name -> store resource name
}

// NewGeminiProvider creates a Gemini provider. No network call is made.
func NewGeminiProvider(settings ProviderSettings, deps Dependencies) *GeminiProvider {
	logger := deps.logger().WithName("rag-gemini")
	g := &GeminiProvider{
		settings: settings,
		logger:   logger,
		usage:    deps.usage(),
		stores:   make(map[string]string),
	}
	// the SDK refuses an empty key; guard reports that case first
	if settings.APIKey != "" {
		g.client, g.clientErr = newGeminiClient(settings, g.usage, deps.Transport, logger)
	}
	return g
}

// Name implements Provider
func (g *GeminiProvider) Name() ProviderName { return ProviderGemini }

func (g *GeminiProvider) guard() error {
	if !g.settings.RealAPIEnabled {
		return &APIDisabledError{Provider: ProviderGemini}
	}
	if g.settings.APIKey == "" {
		return configErrorf(ProviderGemini, "GEMINI_API_KEY is not set")
	}
	if g.clientErr != nil {
		return configErrorf(ProviderGemini, "failed to create client: %v", g.clientErr)
	}
	return nil
}

// CreateStore implements Provider
func (g *GeminiProvider) CreateStore(ctx context.Context, displayName string) (string, error) {
	if err := g.guard(); err != nil {
		return "", err
	}
	name, err := g.client.createStore(ctx, displayName)
	if err != nil {
		return "", err
	}
	g.remember(displayName, name)
	g.logger.InfoKV("Created file search store", "name", displayName, "store", name)
	return name, nil
}

// GetOrCreateStore implements Provider
func (g *GeminiProvider) GetOrCreateStore(ctx context.Context, displayName string) (string, error) {
	if err := g.guard(); err != nil {
		return "", err
	}
	if name, ok := g.known(displayName); ok {
		return name, nil
	}
	name, err := g.client.findStore(ctx, displayName)
	if err != nil {
		return "", err
	}
	if name != "" {
		g.remember(displayName, name)
		return name, nil
	}
	return g.CreateStore(ctx, displayName)
}

func (g *GeminiProvider) known(displayName string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.stores[displayName]
	return name, ok
}

func (g *GeminiProvider) remember(displayName, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stores[displayName] = name
}

// UploadResource implements Provider
func (g *GeminiProvider) UploadResource(ctx context.Context, res *Resource) (*UploadResult, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}
	storeName, err := g.GetOrCreateStore(ctx, g.settings.StoreName)
	if err != nil {
		return nil, err
	}

	var (
		op       *genai.UploadToFileSearchStoreOperation
		fileName string
	)
	err = withLocalFile(res, g.logger, func(path string) error {
		fileName = uploadFileName(res, path)
		var err error
		op, err = g.client.uploadDocument(ctx, storeName, path, &genai.UploadToFileSearchStoreConfig{
			DisplayName: fileName,
			MIMEType:    "application/pdf",
			CustomMetadata: []*genai.CustomMetadata{
				{Key: "jurisdiction_abbrev", StringValue: res.JurisdictionAbbrev},
				{Key: "resource_type", StringValue: res.ResourceType},
				{Key: "display_name", StringValue: res.DisplayName},
				{Key: "resource_id", StringValue: strconv.FormatUint(uint64(res.ID), 10)},
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.OnIndexing != nil {
		res.OnIndexing()
	}
	op, err = g.waitForOperation(ctx, op)
	if err != nil {
		return nil, err
	}

	fileID := operationDocument(op)
	status := "completed"
	if fileID == "" {
		fileID = op.Name
		status = "processing"
	}

	g.logger.InfoKV("Uploaded resource to file search store", "resource_id", res.ID, "document", fileID, "store", storeName)
	return &UploadResult{
		FileID:  fileID,
		StoreID: storeName,
		Metadata: map[string]interface{}{
			"filename":          fileName,
			"store_name":        g.settings.StoreName,
			"operation":         op.Name,
			"processing_status": status,
		},
	}, nil
}

// waitForOperation polls a long-running upload until it finishes or the
// processing timeout elapses. A timeout is logged, not returned.
func (g *GeminiProvider) waitForOperation(ctx context.Context, op *genai.UploadToFileSearchStoreOperation) (*genai.UploadToFileSearchStoreOperation, error) {
	deadline := time.Now().Add(g.settings.ProcessingTimeout)
	interval := g.settings.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for !op.Done {
		if op.Name == "" || time.Now().Add(interval).After(deadline) {
			g.logger.WarnKV("Timed out waiting for file search indexing, continuing",
				"operation", op.Name, "timeout", g.settings.ProcessingTimeout)
			return op, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		next, err := g.client.getOperation(ctx, op.Name)
		if err != nil {
			return nil, err
		}
		op = next
	}

	if err := operationError(op); err != nil {
		return nil, err
	}
	return op, nil
}

// RemoveResource implements Provider
func (g *GeminiProvider) RemoveResource(ctx context.Context, res *Resource, fileID string) {
	if fileID == "" {
		return
	}
	log := g.logger.With("resource_id", res.ID, "document", fileID)
	if err := g.guard(); err != nil {
		log.WarnKV("Skipping remote document removal", "error", err)
		return
	}

	documentName := fileID
	if strings.Contains(fileID, geminiOperationMarker) {
		op, err := g.client.getOperation(ctx, fileID)
		if err != nil || operationDocument(op) == "" {
			log.WarnKV("Upload operation has no document to remove", "error", err)
			return
		}
		documentName = operationDocument(op)
	}

	if err := g.client.deleteDocument(ctx, documentName); err != nil {
		log.WarnKV("Failed to delete document", "error", err)
		return
	}
	log.Info("Removed document from Gemini")
}

func (g *GeminiProvider) generateRequest(req QueryRequest, storeName string) ([]*genai.Content, *genai.GenerateContentConfig) {
	fileSearch := &genai.FileSearch{FileSearchStoreNames: []string{storeName}}
	if req.State != "" {
		fileSearch.MetadataFilter = metadataFilter(req.State)
	}
	contents := []*genai.Content{genai.NewContentFromText(buildUserPrompt(req), genai.RoleUser)}
	return contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req), ""),
		Tools:             []*genai.Tool{{FileSearch: fileSearch}},
	}
}

// groundingOf returns the first candidate's grounding metadata
func groundingOf(resp *genai.GenerateContentResponse) *genai.GroundingMetadata {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	return resp.Candidates[0].GroundingMetadata
}

// Query implements Provider
func (g *GeminiProvider) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}
	storeName, err := g.GetOrCreateStore(ctx, g.settings.StoreName)
	if err != nil {
		return nil, err
	}

	model := modelFor(req, g.settings.Model)
	contents, cfg := g.generateRequest(req, storeName)
	resp, err := g.client.generateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Answer:    resp.Text(),
		Citations: geminiCitations(groundingOf(resp)),
		Provider:  string(ProviderGemini),
		Model:     model,
		State:     req.State,
	}, nil
}

// QueryStream implements Provider
func (g *GeminiProvider) QueryStream(ctx context.Context, req QueryRequest) <-chan StreamEvent {
	if err := g.guard(); err != nil {
		return errorStream(err)
	}
	storeName, err := g.GetOrCreateStore(ctx, g.settings.StoreName)
	if err != nil {
		return errorStream(err)
	}

	model := modelFor(req, g.settings.Model)
	contents, cfg := g.generateRequest(req, storeName)

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		out := streamEmitter{ctx: ctx, ch: ch}

		var grounding *genai.GroundingMetadata
		for chunk, err := range g.client.sdk.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				out.fail(g.client.classify("query_stream", err))
				return
			}
			if text := chunk.Text(); text != "" {
				if !out.send(StreamEvent{Type: EventChunk, Text: text}) {
					return
				}
			}
			// grounding arrives with the final chunk
			if meta := groundingOf(chunk); meta != nil {
				grounding = meta
			}
		}

		if !out.send(StreamEvent{Type: EventCitations, Citations: geminiCitations(grounding), State: req.State}) {
			return
		}
		out.send(StreamEvent{Type: EventDone, Provider: string(ProviderGemini), Model: model})
	}()
	return ch
}

// Info implements Provider
func (g *GeminiProvider) Info() Info {
	return Info{
		Provider:       ProviderGemini,
		Model:          g.settings.Model,
		StoreName:      g.settings.StoreName,
		RealAPIEnabled: g.settings.RealAPIEnabled,
		Config: map[string]interface{}{
			"api_key_set":         g.settings.APIKey != "",
			"base_url":            g.baseURL(),
			"requests_per_minute": g.settings.RequestsPerMinute,
			"usage":               g.usage.Stats(ProviderGemini),
		},
	}
}

func (g *GeminiProvider) baseURL() string {
	if g.settings.BaseURL != "" {
		return g.settings.BaseURL
	}
	return geminiDefaultBaseURL
}
