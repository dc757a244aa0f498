package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
	customHTTP "github.com/muckrock/foia-coach-api/internal/common/http"
	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/"

// geminiClient narrows the genai SDK to the File Search calls the provider makes
type geminiClient struct {
	sdk     *genai.Client
	baseURL string
}

// newGeminiClient builds the SDK client. Every attempt goes through the usage
// tracker, and quota errors are surfaced instead of retried.
func newGeminiClient(settings ProviderSettings, usage *UsageTracker, transport http.RoundTripper, logger *logging.Logger) (*geminiClient, error) {
	opts := customHTTP.DefaultOptions()
	// stream bodies outlive any fixed client timeout; contexts bound each call
	opts.Timeout = 0
	opts.RetryTooManyRequests = false
	opts.Transport = usage.Transport(ProviderGemini, transport)
	opts.RequestLogger = func(method, u string, attempt int) {
		logger.DebugKV("Gemini request", "method", method, "url", u, "attempt", attempt)
	}
	opts.ResponseLogger = func(status int, err error) {
		logger.DebugKV("Gemini response", "status", status, "error", err)
	}

	base := settings.BaseURL
	if base == "" {
		base = geminiDefaultBaseURL
	}
	sdk, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      settings.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  customHTTP.NewClient(opts),
		HTTPOptions: genai.HTTPOptions{BaseURL: base},
	})
	if err != nil {
		return nil, err
	}
	return &geminiClient{sdk: sdk, baseURL: base}, nil
}

// findStore pages through the stores looking for displayName
func (c *geminiClient) findStore(ctx context.Context, displayName string) (string, error) {
	page, err := c.sdk.FileSearchStores.List(ctx, &genai.ListFileSearchStoresConfig{PageSize: 20})
	for {
		if err != nil {
			return "", c.classify("list_stores", err)
		}
		for _, s := range page.Items {
			if s.DisplayName == displayName {
				return s.Name, nil
			}
		}
		page, err = page.Next(ctx)
		if errors.Is(err, genai.ErrPageDone) {
			return "", nil
		}
	}
}

func (c *geminiClient) createStore(ctx context.Context, displayName string) (string, error) {
	store, err := c.sdk.FileSearchStores.Create(ctx, &genai.CreateFileSearchStoreConfig{DisplayName: displayName})
	if err != nil {
		return "", c.classify("create_store", err)
	}
	return store.Name, nil
}

// uploadDocument starts a resumable upload of the file at path and returns
// the long-running indexing operation.
func (c *geminiClient) uploadDocument(ctx context.Context, storeName, path string, cfg *genai.UploadToFileSearchStoreConfig) (*genai.UploadToFileSearchStoreOperation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	op, err := c.sdk.FileSearchStores.UploadToFileSearchStore(ctx, f, storeName, cfg)
	if err != nil {
		return nil, c.classify("upload_document", err)
	}
	return op, nil
}

func (c *geminiClient) getOperation(ctx context.Context, name string) (*genai.UploadToFileSearchStoreOperation, error) {
	op, err := c.sdk.Operations.GetUploadToFileSearchStoreOperation(ctx, &genai.UploadToFileSearchStoreOperation{Name: name}, nil)
	if err != nil {
		return nil, c.classify("get_operation", err)
	}
	return op, nil
}

func (c *geminiClient) deleteDocument(ctx context.Context, documentName string) error {
	err := c.sdk.FileSearchStores.Documents.Delete(ctx, documentName, &genai.DeleteDocumentConfig{Force: genai.Ptr(true)})
	if err != nil {
		return c.classify("delete_document", err)
	}
	return nil
}

func (c *geminiClient) generateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, c.classify("query", err)
	}
	return resp, nil
}

// operationError turns a finished operation's status into a provider error
func operationError(op *genai.UploadToFileSearchStoreOperation) error {
	if op == nil || op.Error == nil {
		return nil
	}
	code, _ := op.Error["code"].(float64)
	message, _ := op.Error["message"].(string)
	return &ProviderAPIError{
		Provider:   ProviderGemini,
		Op:         "process_document",
		StatusCode: int(code),
		Message:    message,
	}
}

// operationDocument is the indexed document name, empty until the operation finishes
func operationDocument(op *genai.UploadToFileSearchStoreOperation) string {
	if op == nil || !op.Done || op.Response == nil {
		return ""
	}
	return op.Response.DocumentName
}

// classify maps SDK and transport errors onto provider errors
func (c *geminiClient) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		if looksLikeQuota(err.Error()) {
			return &QuotaExceededError{Provider: ProviderGemini, RetryAfter: parseRetryAfter(err.Error()), Err: err}
		}
		return &ProviderAPIError{Provider: ProviderGemini, Op: op, Err: err}
	}

	if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
		return &QuotaExceededError{
			Provider:   ProviderGemini,
			RetryAfter: geminiRetryAfter(apiErr.Details, apiErr.Message),
			Err:        statusCause(apiErr.Code, apiErr.Message),
		}
	}
	return &ProviderAPIError{
		Provider:   ProviderGemini,
		Op:         op,
		StatusCode: apiErr.Code,
		Message:    strings.TrimSpace(apiErr.Message),
		Err:        statusCause(apiErr.Code, apiErr.Message),
	}
}

// geminiRetryAfter prefers a RetryInfo detail, then the message text
func geminiRetryAfter(details []map[string]any, message string) time.Duration {
	for _, detail := range details {
		kind, _ := detail["@type"].(string)
		if !strings.HasSuffix(kind, "RetryInfo") {
			continue
		}
		delay, _ := detail["retryDelay"].(string)
		if d, ok := parseRetryDelay(delay); ok {
			return d
		}
	}
	return parseRetryAfter(message)
}

func statusCause(code int, message string) error {
	return fmt.Errorf("%w: %s", customErrors.StatusCodeToError(code), message)
}

func metadataFilter(state string) string {
	return fmt.Sprintf("jurisdiction_abbrev = %q", state)
}
