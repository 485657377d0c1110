package mcp

import (
	"context"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/jobs"
)

const (
	// ServerName is the MCP server name
	ServerName = "kwmatch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes a job manager as MCP tools
type Server struct {
	mcp      *server.MCPServer
	jobs     *jobs.Manager
	defaults config.Matching
	logger   *zap.Logger
}

// NewServer creates a new MCP server. defaults are the matching settings a
// submission starts from before its own overrides apply.
func NewServer(mgr *jobs.Manager, defaults config.Matching, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		jobs:     mgr,
		defaults: defaults,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the MCP protocol over the given streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("mcp")))
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.addTool(submitMatchingJobTool(), s.handleSubmitMatchingJob)
	s.addTool(getJobStatusTool(), s.handleGetJobStatus)
	s.addTool(cancelJobTool(), s.handleCancelJob)
	s.addTool(getJobResultTool(), s.handleGetJobResult)
	s.addTool(listJobsTool(), s.handleListJobs)
}

// addTool registers a handler that logs the errors it returns
func (s *Server) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := h(ctx, request)
		if err != nil {
			logToolError(s.logger, tool.Name, err)
		}
		return res, err
	})
}
