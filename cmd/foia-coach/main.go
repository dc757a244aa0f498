// Package main runs the FOIA Coach HTTP API
package main

import (
	"context"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/muckrock/foia-coach-api/internal/app"
	"github.com/muckrock/foia-coach-api/internal/httpapi"
	mcpserver "github.com/muckrock/foia-coach-api/internal/mcp/server"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
)

var (
	configFile = flag.String("config", "", "Path to the JSON configuration file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	addr       = flag.String("addr", "", "Listen address (overrides config)")
	migrate    = flag.Bool("migrate", false, "Create or update the database schema on startup")
	withMCP    = flag.Bool("mcp", false, "Also serve the MCP tools (overrides config)")
)

func main() {
	flag.Parse()

	logger := app.SetupLogging("foia-coach", *debug)
	logger.InfoKV("Starting FOIA Coach API", "debug", *debug)

	cfg, err := app.LoadConfig(*configFile, *debug, logger)
	if err != nil {
		logger.Fatal("%v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *migrate {
		cfg.Database.AutoMigrate = true
	}
	if *withMCP {
		cfg.MCP.Enabled = true
	}
	if cfg.Monitoring.Enabled {
		monitoring.RegisterMetrics()
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	dispatcher, err := a.Dispatcher()
	if err != nil {
		logger.Fatal("Failed to create upload dispatcher: %v", err)
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Coach:      a.Coach,
		Repo:       a.Repo,
		Storage:    a.Storage,
		Providers:  a.Providers,
		Dispatcher: dispatcher,
		Upload:     cfg.Upload,
		Monitoring: cfg.Monitoring,
		Logger:     logger,
	})
	server := httpapi.NewServer(cfg.Server, router, logger)

	runErr := app.Run(logger, cfg.Server.GetShutdownTimeout(), a.ClearProviders, func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Run(ctx) })
		if cfg.MCP.Enabled {
			mcp := mcpserver.NewServer(cfg.MCP, cfg.Version, a.Coach, a.Providers, logger)
			g.Go(func() error { return mcp.Run(ctx) })
		}
		return g.Wait()
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.ErrorKV("Failed to release resources", "error", err)
	}
	if runErr != nil {
		logger.ErrorKV("Server stopped with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("FOIA Coach API stopped")
}
