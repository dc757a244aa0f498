package rag

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

// OpenAIProvider answers from an OpenAI vector store through the Responses
// API file_search tool.
type OpenAIProvider struct {
	client   openai.Client
	settings ProviderSettings
	logger   *logging.Logger
	usage    *UsageTracker

	mu       sync.Mutex
	storeIDs map[string]string // display name -> vector store id
}

// NewOpenAIProvider creates an OpenAI provider. No network call is made.
func NewOpenAIProvider(settings ProviderSettings, deps Dependencies) *OpenAIProvider {
	usage := deps.usage()
	opts := []option.RequestOption{
		option.WithAPIKey(settings.APIKey),
		option.WithMaxRetries(1),
		// every attempt, page and poll is one tracked request
		option.WithHTTPClient(&http.Client{Transport: usage.Transport(ProviderOpenAI, deps.Transport)}),
	}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	if settings.MaxResults == 0 {
		settings.MaxResults = 10
	}

	return &OpenAIProvider{
		client:   openai.NewClient(opts...),
		settings: settings,
		logger:   deps.logger().WithName("rag-openai"),
		usage:    usage,
		storeIDs: make(map[string]string),
	}
}

// Name implements Provider
func (o *OpenAIProvider) Name() ProviderName { return ProviderOpenAI }

// guard enforces the real-API switch before any network call
func (o *OpenAIProvider) guard() error {
	if !o.settings.RealAPIEnabled {
		return &APIDisabledError{Provider: ProviderOpenAI}
	}
	if o.settings.APIKey == "" {
		return configErrorf(ProviderOpenAI, "OPENAI_API_KEY is not set")
	}
	return nil
}

// CreateStore implements Provider
func (o *OpenAIProvider) CreateStore(ctx context.Context, displayName string) (string, error) {
	if err := o.guard(); err != nil {
		return "", err
	}
	vs, err := o.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
		Name: openai.String(displayName),
	})
	if err != nil {
		return "", o.apiError("create_store", err)
	}
	o.rememberStore(displayName, vs.ID)
	o.logger.InfoKV("Created vector store", "name", displayName, "store_id", vs.ID)
	return vs.ID, nil
}

// GetOrCreateStore implements Provider
func (o *OpenAIProvider) GetOrCreateStore(ctx context.Context, displayName string) (string, error) {
	if err := o.guard(); err != nil {
		return "", err
	}
	if id, ok := o.knownStore(displayName); ok {
		return id, nil
	}

	id, err := o.findStoreByName(ctx, displayName)
	if err != nil {
		return "", err
	}
	if id != "" {
		o.rememberStore(displayName, id)
		o.logger.DebugKV("Found existing vector store", "name", displayName, "store_id", id)
		return id, nil
	}
	return o.CreateStore(ctx, displayName)
}

func (o *OpenAIProvider) findStoreByName(ctx context.Context, displayName string) (string, error) {
	iter := o.client.VectorStores.ListAutoPaging(ctx, openai.VectorStoreListParams{
		Limit: openai.Int(100),
	})
	for iter.Next() {
		if vs := iter.Current(); vs.Name == displayName {
			return vs.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", o.apiError("list_stores", err)
	}
	return "", nil
}

func (o *OpenAIProvider) knownStore(name string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.storeIDs[name]
	return id, ok
}

func (o *OpenAIProvider) rememberStore(name, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storeIDs[name] = id
}

// UploadResource implements Provider
func (o *OpenAIProvider) UploadResource(ctx context.Context, res *Resource) (*UploadResult, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	storeID, err := o.GetOrCreateStore(ctx, o.settings.StoreName)
	if err != nil {
		return nil, err
	}

	var fileID, fileName string
	err = withLocalFile(res, o.logger, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		fileName = uploadFileName(res, path)
		uploaded, err := o.client.Files.New(ctx, openai.FileNewParams{
			File:    openai.File(f, fileName, "application/pdf"),
			Purpose: openai.FilePurposeAssistants,
		})
		if err != nil {
			return o.apiError("upload_file", err)
		}
		fileID = uploaded.ID
		return nil
	})
	if err != nil {
		var apiErr *ProviderAPIError
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) || errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, &ProviderAPIError{Provider: ProviderOpenAI, Op: "upload_file", Err: err}
	}

	vsFile, err := o.client.VectorStores.Files.New(ctx, storeID, openai.VectorStoreFileNewParams{
		FileID: fileID,
		Attributes: map[string]openai.VectorStoreFileNewParamsAttributeUnion{
			"jurisdiction_abbrev": {OfString: openai.String(res.JurisdictionAbbrev)},
			"resource_type":       {OfString: openai.String(res.ResourceType)},
			"display_name":        {OfString: openai.String(res.DisplayName)},
			"resource_id":         {OfFloat: openai.Float(float64(res.ID))},
		},
	})
	if err != nil {
		return nil, o.apiError("attach_file", err)
	}

	if res.OnIndexing != nil {
		res.OnIndexing()
	}
	status, err := o.waitForProcessing(ctx, storeID, vsFile.ID)
	if err != nil {
		return nil, err
	}

	o.logger.InfoKV("Uploaded resource to vector store", "resource_id", res.ID, "file_id", fileID, "store_id", storeID, "status", status)
	return &UploadResult{
		FileID:  fileID,
		StoreID: storeID,
		Metadata: map[string]interface{}{
			"filename":          fileName,
			"store_name":        o.settings.StoreName,
			"processing_status": status,
		},
	}, nil
}

// waitForProcessing polls until the file leaves in_progress. Running out of
// time is logged and treated as success; the index finishes on its own.
func (o *OpenAIProvider) waitForProcessing(ctx context.Context, storeID, fileID string) (string, error) {
	deadline := time.Now().Add(o.settings.ProcessingTimeout)
	interval := o.settings.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		vsFile, err := o.client.VectorStores.Files.Get(ctx, storeID, fileID)
		if err != nil {
			return "", o.apiError("file_status", err)
		}

		switch vsFile.Status {
		case openai.VectorStoreFileStatusCompleted:
			return string(vsFile.Status), nil
		case openai.VectorStoreFileStatusFailed, openai.VectorStoreFileStatusCancelled:
			msg := vsFile.LastError.Message
			if msg == "" {
				msg = "file processing " + string(vsFile.Status)
			}
			return "", &ProviderAPIError{Provider: ProviderOpenAI, Op: "process_file", Message: msg}
		}

		if time.Now().Add(interval).After(deadline) {
			o.logger.WarnKV("Timed out waiting for vector store processing, continuing",
				"file_id", fileID, "store_id", storeID, "timeout", o.settings.ProcessingTimeout)
			return string(vsFile.Status), nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RemoveResource implements Provider
func (o *OpenAIProvider) RemoveResource(ctx context.Context, res *Resource, fileID string) {
	if fileID == "" {
		return
	}
	log := o.logger.With("resource_id", res.ID, "file_id", fileID)
	if err := o.guard(); err != nil {
		log.WarnKV("Skipping remote file removal", "error", err)
		return
	}

	storeID := res.StoreID
	if storeID == "" {
		if id, ok := o.knownStore(o.settings.StoreName); ok {
			storeID = id
		} else if id, err := o.findStoreByName(ctx, o.settings.StoreName); err == nil {
			storeID = id
		}
	}

	if storeID != "" {
		if _, err := o.client.VectorStores.Files.Delete(ctx, storeID, fileID); err != nil {
			log.WarnKV("Failed to remove file from vector store", "store_id", storeID, "error", err)
		}
	}
	if _, err := o.client.Files.Delete(ctx, fileID); err != nil {
		log.WarnKV("Failed to delete file", "error", err)
		return
	}
	log.Info("Removed file from OpenAI")
}

func (o *OpenAIProvider) queryParams(req QueryRequest, storeID string) responses.ResponseNewParams {
	fileSearch := responses.FileSearchToolParam{
		VectorStoreIDs: []string{storeID},
		MaxNumResults:  openai.Int(int64(o.settings.MaxResults)),
	}
	if req.State != "" {
		fileSearch.Filters = responses.FileSearchToolFiltersUnionParam{
			OfComparisonFilter: &shared.ComparisonFilterParam{
				Key:   "jurisdiction_abbrev",
				Type:  shared.ComparisonFilterTypeEq,
				Value: shared.ComparisonFilterValueUnionParam{OfString: openai.String(req.State)},
			},
		}
	}
	return responses.ResponseNewParams{
		Model:        modelFor(req, o.settings.Model),
		Instructions: openai.String(systemPrompt(req)),
		Input:        responses.ResponseNewParamsInputUnion{OfString: openai.String(buildUserPrompt(req))},
		Tools:        []responses.ToolUnionParam{{OfFileSearch: &fileSearch}},
	}
}

// Query implements Provider
func (o *OpenAIProvider) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	storeID, err := o.GetOrCreateStore(ctx, o.settings.StoreName)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Responses.New(ctx, o.queryParams(req, storeID))
	if err != nil {
		return nil, o.apiError("query", err)
	}
	if resp.Error.Message != "" {
		return nil, o.responseError("query", string(resp.Error.Code), resp.Error.Message)
	}

	return &QueryResult{
		Answer:    resp.OutputText(),
		Citations: openAICitations(resp, nil),
		Provider:  string(ProviderOpenAI),
		Model:     modelFor(req, o.settings.Model),
		State:     req.State,
	}, nil
}

// QueryStream implements Provider
func (o *OpenAIProvider) QueryStream(ctx context.Context, req QueryRequest) <-chan StreamEvent {
	if err := o.guard(); err != nil {
		return errorStream(err)
	}
	storeID, err := o.GetOrCreateStore(ctx, o.settings.StoreName)
	if err != nil {
		return errorStream(err)
	}

	params := o.queryParams(req, storeID)
	model := modelFor(req, o.settings.Model)
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		out := streamEmitter{ctx: ctx, ch: ch}

		stream := o.client.Responses.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		citations := []Citation{}
		for stream.Next() {
			ev := stream.Current()
			switch ev.Type {
			case "response.output_text.delta":
				if delta := ev.AsResponseOutputTextDelta().Delta; delta != "" {
					if !out.send(StreamEvent{Type: EventChunk, Text: delta}) {
						return
					}
				}
			case "response.completed":
				completed := ev.AsResponseCompleted().Response
				citations = openAICitations(&completed, nil)
			case "response.failed":
				failed := ev.AsResponseFailed().Response
				out.fail(o.responseError("query_stream", string(failed.Error.Code), failed.Error.Message))
				return
			case "error":
				e := ev.AsError()
				out.fail(o.responseError("query_stream", e.Code, e.Message))
				return
			}
		}
		if err := stream.Err(); err != nil {
			out.fail(o.apiError("query_stream", err))
			return
		}

		if !out.send(StreamEvent{Type: EventCitations, Citations: citations, State: req.State}) {
			return
		}
		out.send(StreamEvent{Type: EventDone, Provider: string(ProviderOpenAI), Model: model})
	}()
	return ch
}

// Info implements Provider
func (o *OpenAIProvider) Info() Info {
	return Info{
		Provider:       ProviderOpenAI,
		Model:          o.settings.Model,
		StoreName:      o.settings.StoreName,
		RealAPIEnabled: o.settings.RealAPIEnabled,
		Config: map[string]interface{}{
			"api_key_set":         o.settings.APIKey != "",
			"max_results":         o.settings.MaxResults,
			"requests_per_minute": o.settings.RequestsPerMinute,
			"usage":               o.usage.Stats(ProviderOpenAI),
		},
	}
}

// apiError classifies SDK errors into provider errors
func (o *OpenAIProvider) apiError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(apiErr.Message)
			if apiErr.Response != nil {
				if secs, perr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); perr == nil && secs > 0 {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			return &QuotaExceededError{Provider: ProviderOpenAI, RetryAfter: retryAfter, Err: err}
		}
		return &ProviderAPIError{Provider: ProviderOpenAI, Op: op, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if looksLikeQuota(err.Error()) {
		return &QuotaExceededError{Provider: ProviderOpenAI, RetryAfter: parseRetryAfter(err.Error()), Err: err}
	}
	return &ProviderAPIError{Provider: ProviderOpenAI, Op: op, Err: err}
}

func (o *OpenAIProvider) responseError(op, code, message string) error {
	if code == "rate_limit_exceeded" || looksLikeQuota(message) {
		return &QuotaExceededError{Provider: ProviderOpenAI, RetryAfter: parseRetryAfter(message), Err: errors.New(message)}
	}
	if message == "" {
		message = "response failed"
	}
	return &ProviderAPIError{Provider: ProviderOpenAI, Op: op, Message: message}
}
