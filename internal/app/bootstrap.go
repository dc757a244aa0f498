package app

import (
	"fmt"
	"os"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
)

// SetupLogging creates the root logger. LOG_LEVEL wins over the debug flag.
func SetupLogging(name string, debug bool) *logging.Logger {
	logLevel := logging.LevelInfo
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		logLevel = logging.ParseLevel(envLogLevel)
	} else if debug {
		logLevel = logging.LevelDebug
	}
	return logging.New(name, logLevel)
}

// LoadConfig loads and validates the configuration, then applies the
// monitoring log level unless LOG_LEVEL or the debug flag already chose one.
func LoadConfig(path string, debug bool, logger *logging.Logger) (*config.Config, error) {
	cfg, err := config.LoadConfig(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Monitoring.LoggingLevel != "" && os.Getenv("LOG_LEVEL") == "" && !debug {
		logger.SetMinLevel(logging.ParseLevel(cfg.Monitoring.LoggingLevel))
	}

	logger.InfoKV("Configuration loaded",
		"version", cfg.Version,
		"database", cfg.Database.Driver,
		"queue", cfg.Queue.Driver,
		"default_provider", cfg.RAG.DefaultProvider)
	for name, p := range cfg.RAG.Providers {
		logger.InfoKV("Provider configured",
			"provider", name,
			"model", p.Model,
			"api_key_present", p.APIKey != "",
			"real_api_enabled", p.RealAPIEnabled)
	}
	return cfg, nil
}
