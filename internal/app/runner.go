package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sha1n/mcp-handbook-server/internal/config"
	"github.com/sha1n/mcp-handbook-server/internal/handbook"
	mcputil "github.com/sha1n/mcp-handbook-server/internal/mcp"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*mcp.Server, *config.Settings, prometheus.Gatherer) error
	CreateServer      func(*config.Settings, prometheus.Registerer) (*mcp.Server, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configureLogging()

	slog.Info("Starting handbook MCP server", "version", version)
	config.Log(settings)

	registry := newRegistry()
	mcpServer, cleanup, err := params.CreateServer(settings, registry)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	} else {
		slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
		return params.StartSSEServer(mcpServer, settings, registry)
	}
}

// configureLogging always logs to stderr; stdout carries the stdio transport.
func configureLogging() {
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))
}

// newRegistry creates the Prometheus registry served on /metrics.
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// CreateMCPServer creates the MCP server with registered tools
func CreateMCPServer(settings *config.Settings, reg prometheus.Registerer) (*mcp.Server, func(), error) {
	var handbookSvc *handbook.Service
	var cleanup func()

	// Initialize handbook service if enabled
	if settings.Handbook.Enabled {
		svc, closeSvc, err := openHandbookService(context.Background(), &settings.Handbook, reg)
		if err != nil {
			return nil, nil, err
		}
		handbookSvc = svc
		cleanup = closeSvc

		// Initialize in background context (not tied to request context).
		// A failed run keeps the previously indexed generation queryable.
		if err := svc.Initialize(context.Background()); err != nil {
			slog.Error("Handbook initialization failed, serving existing index", "error", err)
		}
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:        "handbook-mcp",
		Version:     "1.0.0",
		HandbookSvc: handbookSvc,
	})

	return server, cleanup, nil
}

// openHandbookService builds the Gemini dependencies and the handbook service.
// The returned function closes both.
func openHandbookService(ctx context.Context, settings *config.HandbookSettings, reg prometheus.Registerer) (*handbook.Service, func(), error) {
	deps, closeClient, err := handbook.NewGeminiDependencies(ctx, settings, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create handbook dependencies: %w", err)
	}

	svc, err := handbook.NewService(settings, deps)
	if err != nil {
		_ = closeClient()
		return nil, nil, fmt.Errorf("failed to create handbook service: %w", err)
	}

	return svc, func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close handbook service", "error", err)
		}
		if err := closeClient(); err != nil {
			slog.Error("Failed to close Gemini client", "error", err)
		}
	}, nil
}
