package rag

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
)

// ProviderSettings is the resolved configuration for one provider instance
type ProviderSettings struct {
	APIKey            string
	Model             string
	StoreName         string
	BaseURL           string
	RealAPIEnabled    bool
	RequestsPerMinute int
	MaxResults        int
	ProcessingTimeout time.Duration
	PollInterval      time.Duration
}

// Dependencies are the process-wide collaborators shared by provider instances
type Dependencies struct {
	Logger *logging.Logger
	Usage  *UsageTracker
	// Transport replaces the HTTP round tripper for outbound provider calls
	Transport http.RoundTripper
}

func (d Dependencies) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.Discard()
	}
	return d.Logger
}

func (d Dependencies) usage() *UsageTracker {
	if d.Usage == nil {
		return NewUsageTracker(d.Logger)
	}
	return d.Usage
}

// Option overrides a configured setting for a single Get call
type Option func(*ProviderSettings)

// WithAPIKey overrides the API key
func WithAPIKey(key string) Option { return func(s *ProviderSettings) { s.APIKey = key } }

// WithModel overrides the model
func WithModel(model string) Option { return func(s *ProviderSettings) { s.Model = model } }

// WithStoreName overrides the store display name
func WithStoreName(name string) Option { return func(s *ProviderSettings) { s.StoreName = name } }

// WithRealAPIEnabled overrides the real-API safety switch
func WithRealAPIEnabled(enabled bool) Option {
	return func(s *ProviderSettings) { s.RealAPIEnabled = enabled }
}

// WithBaseURL points the provider at a different endpoint
func WithBaseURL(url string) Option { return func(s *ProviderSettings) { s.BaseURL = url } }

// WithProcessingTimeout overrides how long uploads wait for indexing
func WithProcessingTimeout(d time.Duration) Option {
	return func(s *ProviderSettings) { s.ProcessingTimeout = d }
}

// WithPollInterval overrides the indexing poll interval
func WithPollInterval(d time.Duration) Option {
	return func(s *ProviderSettings) { s.PollInterval = d }
}

type constructor func(ProviderSettings, Dependencies) Provider

// constructors is the closed set of providers this service can build
var constructors = map[ProviderName]constructor{
	ProviderOpenAI: func(s ProviderSettings, d Dependencies) Provider { return NewOpenAIProvider(s, d) },
	ProviderGemini: func(s ProviderSettings, d Dependencies) Provider { return NewGeminiProvider(s, d) },
	ProviderMock:   func(s ProviderSettings, d Dependencies) Provider { return NewMockProvider(s, d) },
}

var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*GeminiProvider)(nil)
	_ Provider = (*MockProvider)(nil)
)

// Factory resolves provider names to freshly configured instances. It never caches.
type Factory struct {
	cfg  config.RAGConfig
	deps Dependencies
}

// NewFactory creates a factory over the RAG section of the configuration
func NewFactory(cfg config.RAGConfig, deps Dependencies) *Factory {
	if deps.Usage == nil {
		deps.Usage = NewUsageTracker(deps.Logger)
	}
	return &Factory{cfg: cfg, deps: deps}
}

// Registered lists every provider the factory can build, sorted
func Registered() []ProviderName {
	names := make([]ProviderName, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DefaultProvider returns the configured default provider name
func (f *Factory) DefaultProvider() ProviderName {
	if f.cfg.DefaultProvider == "" {
		return ProviderMock
	}
	return ProviderName(f.cfg.DefaultProvider)
}

// Usage returns the shared usage tracker
func (f *Factory) Usage() *UsageTracker {
	return f.deps.usage()
}

// Resolve maps an optional name to a registered provider
func (f *Factory) Resolve(name string) (ProviderName, error) {
	resolved := ProviderName(strings.ToLower(strings.TrimSpace(name)))
	if resolved == "" {
		resolved = f.DefaultProvider()
	}
	if _, ok := constructors[resolved]; !ok {
		registered := make([]string, 0, len(constructors))
		for _, n := range Registered() {
			registered = append(registered, string(n))
		}
		return "", configErrorf(resolved, "unknown provider %q, registered providers: %s",
			string(resolved), strings.Join(registered, ", "))
	}
	return resolved, nil
}

// Settings merges configuration for name; later options win
func (f *Factory) Settings(name ProviderName, opts ...Option) ProviderSettings {
	pc, ok := f.cfg.Providers[string(name)]
	if !ok {
		tmp := config.Config{}
		tmp.ApplyDefaults()
		pc = tmp.RAG.Providers[string(name)]
	}
	s := ProviderSettings{
		APIKey:            pc.APIKey,
		Model:             pc.Model,
		StoreName:         pc.StoreName,
		BaseURL:           pc.BaseURL,
		RealAPIEnabled:    pc.RealAPIEnabled,
		RequestsPerMinute: pc.RequestsPerMinute,
		MaxResults:        pc.MaxResults,
		ProcessingTimeout: pc.GetProcessingTimeout(),
		PollInterval:      pc.GetPollInterval(),
	}
	if s.StoreName == "" {
		s.StoreName = config.DefaultStoreName
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Get builds a new provider instance for name (empty means the default)
func (f *Factory) Get(name string, opts ...Option) (Provider, error) {
	resolved, err := f.Resolve(name)
	if err != nil {
		return nil, err
	}
	settings := f.Settings(resolved, opts...)
	f.deps.Usage.SetLimit(resolved, settings.RequestsPerMinute)
	return constructors[resolved](settings, f.deps), nil
}
