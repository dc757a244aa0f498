// Package main serves the FOIA Coach tools over the Model Context Protocol
package main

import (
	"context"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/muckrock/foia-coach-api/internal/app"
	mcpserver "github.com/muckrock/foia-coach-api/internal/mcp/server"
)

var (
	configFile = flag.String("config", "", "Path to the JSON configuration file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	addr       = flag.String("addr", "", "Listen address (overrides config)")
	transport  = flag.String("transport", "", "Transport: sse, http or stdio (overrides config)")
)

func main() {
	flag.Parse()

	logger := app.SetupLogging("mcp-server", *debug)
	// stdout carries the protocol in stdio mode
	logger.SetOutput(os.Stderr)

	cfg, err := app.LoadConfig(*configFile, *debug, logger)
	if err != nil {
		logger.Fatal("%v", err)
	}
	if *addr != "" {
		cfg.MCP.Addr = *addr
	}
	if *transport != "" {
		cfg.MCP.Transport = *transport
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	server := mcpserver.NewServer(cfg.MCP, cfg.Version, a.Coach, a.Providers, logger)

	runErr := app.Run(logger, cfg.Server.GetShutdownTimeout(), a.ClearProviders, server.Run)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.ErrorKV("Failed to release resources", "error", err)
	}
	if runErr != nil {
		logger.ErrorKV("MCP server stopped with error", "error", runErr)
		os.Exit(1)
	}
}
