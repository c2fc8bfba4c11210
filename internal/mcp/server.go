package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/prcover/internal/application"
)

// Version is set at build time.
var Version = "dev"

// Server wraps the application service with MCP protocol handling.
type Server struct {
	svc      Service
	parser   application.DiffParser
	coverage CoverageParser
	config   Config
	logger   zerolog.Logger
}

// New creates a new MCP server wrapping the given service. The parsers back
// the reconcile tool, which works on inline documents.
func New(svc Service, diffs application.DiffParser, coverage CoverageParser, cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		svc:      svc,
		parser:   diffs,
		coverage: coverage,
		config:   cfg,
		logger:   logger,
	}
}

// MCPServer builds the protocol server without starting it.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(
		"prcover",
		Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithLogging(),
	)
	s.registerTools(srv)
	s.registerResources(srv)
	return srv
}

// Run serves MCP over stdio until stdin closes.
func (s *Server) Run(_ context.Context) error {
	if err := server.ServeStdio(s.MCPServer()); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func (s *Server) registerTools(srv *server.MCPServer) {
	formats := []string{string(application.FormatAuto)}
	for _, f := range s.coverage.SupportedFormats() {
		formats = append(formats, string(f))
	}

	srv.AddTool(mcp.NewTool("reconcile",
		mcp.WithDescription("Compute coverage of the lines a unified diff adds, using an inline coverage report (Clover, Cobertura, LCOV or Go profile), and apply the threshold gate."),
		mcp.WithString("diff", mcp.Description("Unified diff text."), mcp.Required()),
		mcp.WithString("coverage", mcp.Description("Coverage report document."), mcp.Required()),
		mcp.WithNumber("threshold", mcp.Description("Gate threshold in percent; coverage must be strictly greater. Defaults to 80.")),
		mcp.WithString("format", mcp.Description("Coverage format. Defaults to auto-detection."), mcp.Enum(formats...)),
	), s.handleReconcile)

	srv.AddTool(mcp.NewTool("analyze",
		mcp.WithDescription("Analyze the current change using the project's prcover configuration (diff from git or the configured pull request)."),
		mcp.WithString("config_path", mcp.Description("Path to .prcover.yaml.")),
		mcp.WithString("coverage", mcp.Description("Coverage report path, overriding the config.")),
		mcp.WithString("diff", mcp.Description("Diff file path, overriding the config.")),
		mcp.WithNumber("threshold", mcp.Description("Gate threshold, overriding the config.")),
	), s.handleAnalyze)
}

func (s *Server) registerResources(srv *server.MCPServer) {
	srv.AddResource(mcp.NewResource(
		configResourceURI,
		"Current Configuration",
		mcp.WithResourceDescription("Effective prcover configuration with credentials removed"),
		mcp.WithMIMEType("application/json"),
	), s.handleConfigResource)
}
