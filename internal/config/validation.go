package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

//go:embed schema/config-schema.json
var configSchemaJSON string

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		configSchema, configSchemaErr = jsonschema.CompileString("config-schema.json", configSchemaJSON)
	})
	return configSchema, configSchemaErr
}

// ValidateAfterDefaults validates configuration after defaults and env substitution
func (c *Config) ValidateAfterDefaults() error {
	switch c.RAG.DefaultProvider {
	case ProviderOpenAI, ProviderGemini, ProviderMock:
	default:
		return fmt.Errorf("RAG provider '%s' is not one of openai, gemini, mock", c.RAG.DefaultProvider)
	}

	// A key is only required once the paid API is switched on
	for _, name := range []string{ProviderOpenAI, ProviderGemini} {
		p := c.RAG.Providers[name]
		if p.RealAPIEnabled && (p.APIKey == "" || strings.HasPrefix(p.APIKey, "${")) {
			return fmt.Errorf("%s_API_KEY environment variable not set but %s_REAL_API_ENABLED is true",
				strings.ToUpper(name), strings.ToUpper(name))
		}
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("database driver '%s' is not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" || strings.HasPrefix(c.Database.DSN, "${") {
		return fmt.Errorf("DATABASE_DSN environment variable not set for driver %s", c.Database.Driver)
	}

	if c.Queue.Driver == QueueRabbitMQ && (c.Queue.RabbitURL == "" || strings.HasPrefix(c.Queue.RabbitURL, "${")) {
		return fmt.Errorf("RABBITMQ_URL environment variable not set for rabbitmq upload queue")
	}

	if c.Observability.Enabled && c.Observability.Endpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT not set but observability is enabled")
	}

	return c.ValidateConfig()
}

// ValidateConfig checks the configuration structure against the embedded JSON schema
func (c *Config) ValidateConfig() error {
	configJSON, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	schema, err := compiledConfigSchema()
	if err != nil {
		return fmt.Errorf("failed to compile JSON schema: %w", err)
	}

	var configData interface{}
	if err := json.Unmarshal(configJSON, &configData); err != nil {
		return fmt.Errorf("failed to unmarshal config for validation: %w", err)
	}

	if err := schema.Validate(configData); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// removeSchemaField removes the $schema field from JSON data to avoid strict parsing errors
func removeSchemaField(configData []byte) []byte {
	var rawConfig map[string]interface{}
	if err := json.Unmarshal(configData, &rawConfig); err != nil {
		return configData
	}
	if _, ok := rawConfig["$schema"]; !ok {
		return configData
	}
	delete(rawConfig, "$schema")
	if cleanData, err := json.Marshal(rawConfig); err == nil {
		return cleanData
	}
	return configData
}

// SubstituteEnvironmentVariables performs ${VAR} substitution on secret-bearing fields
func (c *Config) SubstituteEnvironmentVariables() {
	c.Database.DSN = substituteEnvVars(c.Database.DSN)
	c.Queue.RabbitURL = substituteEnvVars(c.Queue.RabbitURL)
	c.Observability.Endpoint = substituteEnvVars(c.Observability.Endpoint)
	c.Observability.ExportHeader = substituteEnvVars(c.Observability.ExportHeader)

	for name, provider := range c.RAG.Providers {
		provider.APIKey = substituteEnvVars(provider.APIKey)
		provider.BaseURL = substituteEnvVars(provider.BaseURL)
		c.RAG.Providers[name] = provider
	}
}

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values
func substituteEnvVars(input string) string {
	if strings.HasPrefix(input, "${") && strings.HasSuffix(input, "}") {
		varName := input[2 : len(input)-1]
		if envValue := os.Getenv(varName); envValue != "" {
			return envValue
		}
	}
	return input
}

// LoadConfig loads configuration from file and environment variables.
// Precedence, lowest first: defaults, environment, config file.
func LoadConfig(configFile string, logger *logging.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.DebugKV("No .env file loaded", "error", err)
		}
	} else if logger != nil {
		logger.InfoKV("Loaded environment variables from .env file", "success", true)
	}

	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.ApplyEnvironmentVariables()

	if configFile != "" {
		if err := loadConfigFile(cfg, configFile, logger); err != nil {
			return nil, err
		}
		// Map entries decoded from the file replace whole provider structs
		cfg.ApplyDefaults()
	}

	cfg.SubstituteEnvironmentVariables()

	if err := cfg.ValidateAfterDefaults(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(cfg *Config, configFile string, logger *logging.Logger) error {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configFile)
	}

	configData, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configData = removeSchemaField(configData)
	dec := json.NewDecoder(bytes.NewReader(configData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if logger != nil {
		logger.InfoKV("Loaded configuration from file", "file", configFile)
	}
	return nil
}
