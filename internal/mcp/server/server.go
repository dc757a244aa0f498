// Package server exposes the FOIA Coach as Model Context Protocol tools
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpServer "github.com/mark3labs/mcp-go/server"

	"github.com/muckrock/foia-coach-api/internal/coach"
	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

// Tool names
const (
	ToolQuery     = "foia_coach_query"
	ToolProviders = "foia_coach_providers"
)

// Transports
const (
	TransportSSE   = "sse"
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

const serverName = "foia-coach"

// Server manages the MCP server endpoint.
type Server struct {
	cfg       config.MCPConfig
	logger    *logging.Logger
	mcp       *mcpServer.MCPServer
	coach     *coach.Service
	providers *rag.ProviderCache
}

// NewServer creates the MCP server and registers the coach tools.
func NewServer(cfg config.MCPConfig, version string, svc *coach.Service, providers *rag.ProviderCache, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger.WithName("mcp"),
		coach:     svc,
		providers: providers,
		mcp: mcpServer.NewMCPServer(
			serverName,
			version,
			mcpServer.WithToolCapabilities(false),
			mcpServer.WithLogging(),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolQuery,
		mcp.WithDescription("Answers a public records (FOIA) question from indexed jurisdiction resources, citing its sources."),
		mcp.WithString("question",
			mcp.Description("The question to answer"),
			mcp.Required(),
		),
		mcp.WithString("state",
			mcp.Description("Two-letter jurisdiction abbreviation to scope the answer, e.g. CO"),
		),
		mcp.WithString("provider",
			mcp.Description("Preferred RAG provider: openai, gemini or mock"),
		),
		mcp.WithString("model",
			mcp.Description("Model override for the provider"),
		),
	), s.instrument(ToolQuery, s.handleQuery))
	s.logger.InfoKV("Registered MCP tool", "tool", ToolQuery)

	s.mcp.AddTool(mcp.NewTool(ToolProviders,
		mcp.WithDescription("Lists the RAG providers and whether each is configured."),
	), s.instrument(ToolProviders, s.handleProviders))
	s.logger.InfoKV("Registered MCP tool", "tool", ToolProviders)
}

func (s *Server) instrument(tool string, h mcpServer.ToolHandlerFunc) mcpServer.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := h(ctx, req)
		monitoring.RecordToolInvocation(tool, err != nil || (res != nil && res.IsError))
		return res, err
	}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	s.logger.DebugKV("Executing query tool", "args", args)

	question := stringArg(args, "question")
	if question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}
	state := strings.ToUpper(stringArg(args, "state"))
	if len(state) > 5 {
		return mcp.NewToolResultError("state must be a jurisdiction abbreviation"), nil
	}

	result, err := s.coach.QueryWithFallback(ctx, rag.QueryRequest{
		Question: question,
		State:    state,
		Model:    stringArg(args, "model"),
	}, strings.ToLower(stringArg(args, "provider")))
	if err != nil {
		s.logger.WarnKV("Query tool failed", "state", state, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatAnswer(result)), nil
}

// formatAnswer renders the answer followed by its sources and the provider
// that produced it.
func formatAnswer(result *rag.QueryResult) string {
	var sb strings.Builder
	sb.WriteString(result.Answer)
	if len(result.Citations) > 0 {
		sb.WriteString("\n\nSources:")
		for _, c := range result.Citations {
			name := c.DisplayName
			if name == "" {
				name = c.Source
			}
			sb.WriteString("\n- " + name)
		}
	}
	fmt.Fprintf(&sb, "\n\nAnswered by %s (%s)", result.Provider, result.Model)
	if result.FallbackUsed {
		fmt.Fprintf(&sb, ", falling back from %s", result.RequestedProvider)
	}
	return sb.String()
}

func (s *Server) handleProviders(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, _ := s.providers.Resolve("")
	out, err := json.MarshalIndent(map[string]interface{}{
		"default":   def,
		"providers": s.providers.Providers(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode providers: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

// Handler returns the HTTP handler for the configured network transport
func (s *Server) Handler() (http.Handler, error) {
	switch s.cfg.Transport {
	case TransportSSE, "":
		return mcpServer.NewSSEServer(s.mcp), nil
	case TransportHTTP:
		return mcpServer.NewStreamableHTTPServer(s.mcp), nil
	default:
		return nil, fmt.Errorf("transport %q is not served over HTTP", s.cfg.Transport)
	}
}

// Run serves the tools until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Transport == TransportStdio {
		s.logger.Info("Serving MCP over stdio")
		return mcpServer.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	}

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.InfoKV("Starting MCP server", "addr", s.cfg.Addr, "transport", s.cfg.Transport)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to start MCP HTTP server: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcp server shutdown failed: %w", err)
		}
		<-errChan
		return nil
	case err := <-errChan:
		return err
	}
}
