// Package config handles loading and managing application configuration
package config

import (
	"os"
	"strconv"
	"time"
)

// Provider names accepted in configuration
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Upload queue drivers
const (
	QueueInline   = "inline"
	QueueRabbitMQ = "rabbitmq"
)

// DefaultStoreName is the store/vector-store display name both hosted
// providers index into unless configured otherwise.
const DefaultStoreName = "StatePublicRecordsStore"

// Upload limits. Stored keys are "foia_coach/jurisdiction_resources/YYYY/MM/"
// plus the filename and a collision suffix; storage cuts long stems so keys
// fit the 255 character column.
const (
	DefaultMaxUploadBytes    = 25 * 1024 * 1024
	DefaultMaxFilenameLength = 209
)

// Config represents the main application configuration
type Config struct {
	Version       string              `json:"version"`
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	RAG           RAGConfig           `json:"rag"`
	Upload        UploadConfig        `json:"upload"`
	Queue         QueueConfig         `json:"queue"`
	Monitoring    MonitoringConfig    `json:"monitoring,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
	MCP           MCPConfig           `json:"mcp,omitempty"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr            string `json:"addr,omitempty"`
	ReadTimeout     string `json:"readTimeout,omitempty"`     // default "30s"
	WriteTimeout    string `json:"writeTimeout,omitempty"`    // default "5m", streaming answers are slow
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"` // default "15s"
}

// DatabaseConfig selects the gorm dialect and DSN
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	AutoMigrate bool   `json:"autoMigrate,omitempty"`
}

// RAGConfig contains the provider table
type RAGConfig struct {
	DefaultProvider string                    `json:"defaultProvider,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers,omitempty"`
}

// ProviderConfig contains provider-specific settings
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	StoreName string `json:"storeName,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	// RealAPIEnabled must be switched on explicitly before any paid API call is made.
	RealAPIEnabled    bool   `json:"realApiEnabled,omitempty"`
	RequestsPerMinute int    `json:"requestsPerMinute,omitempty"`
	MaxResults        int    `json:"maxResults,omitempty"`
	ProcessingTimeout string `json:"processingTimeout,omitempty"` // default "60s"
	PollInterval      string `json:"pollInterval,omitempty"`
}

// UploadConfig contains resource upload limits and storage settings
type UploadConfig struct {
	MaxSizeBytes      int64  `json:"maxSizeBytes,omitempty"`
	MaxFilenameLength int    `json:"maxFilenameLength,omitempty"`
	StorageDir        string `json:"storageDir,omitempty"`
	Workers           int    `json:"workers,omitempty"`
}

// QueueConfig selects how upload jobs are dispatched
type QueueConfig struct {
	Driver      string `json:"driver,omitempty"`
	RabbitURL   string `json:"rabbitUrl,omitempty"`
	RabbitQueue string `json:"rabbitQueue,omitempty"`
	Prefetch    int    `json:"prefetch,omitempty"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	MetricsPath  string `json:"metricsPath,omitempty"`
	LoggingLevel string `json:"loggingLevel,omitempty"`
}

// ObservabilityConfig contains tracing settings
type ObservabilityConfig struct {
	Enabled      bool    `json:"enabled,omitempty"`
	Endpoint     string  `json:"endpoint,omitempty"`
	ServiceName  string  `json:"serviceName,omitempty"`
	SampleRate   float64 `json:"sampleRate,omitempty"`
	Insecure     bool    `json:"insecure,omitempty"`
	ExportHeader string  `json:"exportHeader,omitempty"` // "Key=Value" sent with every export
}

// MCPConfig controls the MCP tool server
type MCPConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Transport string `json:"transport,omitempty"` // sse, http or stdio
}

func providerDefaults(name string) ProviderConfig {
	switch name {
	case ProviderOpenAI:
		return ProviderConfig{
			Model:             "gpt-4o-mini",
			StoreName:         DefaultStoreName,
			MaxResults:        10,
			ProcessingTimeout: "60s",
			PollInterval:      "2s",
		}
	case ProviderGemini:
		return ProviderConfig{
			Model:             "gemini-2.5-flash",
			StoreName:         DefaultStoreName,
			BaseURL:           "https://generativelanguage.googleapis.com",
			ProcessingTimeout: "60s",
			PollInterval:      "5s",
		}
	default:
		return ProviderConfig{
			Model:     "mock-model",
			StoreName: DefaultStoreName,
		}
	}
}

// ApplyDefaults fills every unset field with its default. It is safe to call
// more than once.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "5m"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = "foia_coach.db"
	}

	if c.RAG.DefaultProvider == "" {
		c.RAG.DefaultProvider = ProviderMock
	}
	if c.RAG.Providers == nil {
		c.RAG.Providers = make(map[string]ProviderConfig)
	}
	for _, name := range []string{ProviderOpenAI, ProviderGemini, ProviderMock} {
		c.RAG.Providers[name] = mergeProviderDefaults(c.RAG.Providers[name], providerDefaults(name))
	}

	if c.Upload.MaxSizeBytes == 0 {
		c.Upload.MaxSizeBytes = DefaultMaxUploadBytes
	}
	if c.Upload.MaxFilenameLength == 0 {
		c.Upload.MaxFilenameLength = DefaultMaxFilenameLength
	}
	if c.Upload.StorageDir == "" {
		c.Upload.StorageDir = "./media"
	}
	if c.Upload.Workers == 0 {
		c.Upload.Workers = 2
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueInline
	}
	if c.Queue.RabbitQueue == "" {
		c.Queue.RabbitQueue = "foia_coach.uploads"
	}
	if c.Queue.Prefetch == 0 {
		c.Queue.Prefetch = 4
	}

	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
	if c.Monitoring.LoggingLevel == "" {
		c.Monitoring.LoggingLevel = "info"
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "foia-coach-api"
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = 1.0
	}

	if c.MCP.Addr == "" {
		c.MCP.Addr = ":8081"
	}
	if c.MCP.Transport == "" {
		c.MCP.Transport = "sse"
	}
}

func mergeProviderDefaults(p, d ProviderConfig) ProviderConfig {
	if p.Model == "" {
		p.Model = d.Model
	}
	if p.StoreName == "" {
		p.StoreName = d.StoreName
	}
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.MaxResults == 0 {
		p.MaxResults = d.MaxResults
	}
	if p.ProcessingTimeout == "" {
		p.ProcessingTimeout = d.ProcessingTimeout
	}
	if p.PollInterval == "" {
		p.PollInterval = d.PollInterval
	}
	return p
}

// ApplyEnvironmentVariables applies environment variable overrides
func (c *Config) ApplyEnvironmentVariables() {
	if addr := os.Getenv("FOIA_COACH_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}

	if provider := os.Getenv("RAG_PROVIDER"); provider != "" {
		c.RAG.DefaultProvider = provider
	}
	if c.RAG.Providers == nil {
		c.RAG.Providers = make(map[string]ProviderConfig)
	}

	openaiConfig := c.RAG.Providers[ProviderOpenAI]
	applyProviderEnv(&openaiConfig, "OPENAI", "OPENAI_VECTOR_STORE_NAME")
	c.RAG.Providers[ProviderOpenAI] = openaiConfig

	geminiConfig := c.RAG.Providers[ProviderGemini]
	applyProviderEnv(&geminiConfig, "GEMINI", "GEMINI_FILE_SEARCH_STORE_NAME")
	c.RAG.Providers[ProviderGemini] = geminiConfig

	if dir := os.Getenv("UPLOAD_STORAGE_DIR"); dir != "" {
		c.Upload.StorageDir = dir
	}
	if workers := os.Getenv("UPLOAD_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil {
			c.Upload.Workers = val
		}
	}

	if driver := os.Getenv("UPLOAD_QUEUE"); driver != "" {
		c.Queue.Driver = driver
	}
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		c.Queue.RabbitURL = url
	}
	if queue := os.Getenv("RABBITMQ_QUEUE"); queue != "" {
		c.Queue.RabbitQueue = queue
	}

	if enabled := os.Getenv("MONITORING_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			c.Monitoring.Enabled = val
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Monitoring.LoggingLevel = level
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Endpoint = endpoint
		c.Observability.Enabled = true
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		c.Observability.ServiceName = name
	}
}

func applyProviderEnv(p *ProviderConfig, prefix, storeVar string) {
	if apiKey := os.Getenv(prefix + "_API_KEY"); apiKey != "" {
		p.APIKey = apiKey
	}
	if model := os.Getenv(prefix + "_MODEL"); model != "" {
		p.Model = model
	}
	if store := os.Getenv(storeVar); store != "" {
		p.StoreName = store
	}
	if enabled := os.Getenv(prefix + "_REAL_API_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			p.RealAPIEnabled = val
		}
	}
	if rpm := os.Getenv(prefix + "_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil {
			p.RequestsPerMinute = val
		}
	}
}

// Provider returns the resolved settings for name
func (c *Config) Provider(name string) ProviderConfig {
	if p, ok := c.RAG.Providers[name]; ok {
		return p
	}
	return providerDefaults(name)
}

// GetProcessingTimeout returns how long an upload waits for indexing
func (p ProviderConfig) GetProcessingTimeout() time.Duration {
	return parseDurationOr(p.ProcessingTimeout, 60*time.Second)
}

// GetPollInterval returns the indexing poll interval
func (p ProviderConfig) GetPollInterval() time.Duration {
	return parseDurationOr(p.PollInterval, 2*time.Second)
}

// GetReadTimeout returns the server read timeout
func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDurationOr(s.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the server write timeout
func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDurationOr(s.WriteTimeout, 5*time.Minute)
}

// GetShutdownTimeout returns the graceful shutdown deadline
func (s ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDurationOr(s.ShutdownTimeout, 15*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
