package coordinator

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names exposed to agents.
const (
	ToolRequestFeedback  = "request_feedback"
	ToolPostNotification = "post_notification"
)

// MCPConfig names the MCP server identity.
type MCPConfig struct {
	Name    string
	Version string
}

// MCPServer is the agent-facing surface: two MCP tools that submit work into
// the coordinator and block on (or immediately return) the outcome.
type MCPServer struct {
	server *server.MCPServer
	coord  *Coordinator
	logger *slog.Logger
}

// NewMCPServer creates the MCP server and registers the feedback tools.
func NewMCPServer(cfg MCPConfig, coord *Coordinator, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	ms := &MCPServer{
		server: mcpServer,
		coord:  coord,
		logger: logger,
	}
	ms.registerTools()
	return ms
}

func (ms *MCPServer) registerTools() {
	requestTool := mcp.NewTool(ToolRequestFeedback,
		mcp.WithDescription("Ask the human operator for feedback and wait for the reply"),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("What feedback is needed, shown to the operator"),
		),
		mcp.WithString("project_directory",
			mcp.Description("Workspace directory the request concerns"),
		),
	)
	ms.server.AddTool(requestTool, ms.handleRequestFeedback)

	notifyTool := mcp.NewTool(ToolPostNotification,
		mcp.WithDescription("Post a fire-and-forget notice to the operator UI"),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Notice text shown to the operator"),
		),
		mcp.WithString("project_directory",
			mcp.Description("Workspace directory the notice concerns"),
		),
	)
	ms.server.AddTool(notifyTool, ms.handlePostNotification)
}

// handleRequestFeedback blocks until the request resolves: human feedback,
// the timeout sentinel, or a terminal rejection.
func (ms *MCPServer) handleRequestFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := request.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	projectDir := request.GetString("project_directory", "")

	outcome, err := ms.coord.SubmitInteractive(ctx, summary, projectDir)
	if err != nil {
		ms.logger.Warn("Feedback request failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	if outcome.TimedOut {
		return mcp.NewToolResultText("No feedback received before the session timed out; proceed."), nil
	}

	text := outcome.Feedback.Text
	if text == "" {
		text = "(empty feedback)"
	}
	result := mcp.NewToolResultText(text)
	if outcome.Feedback.ImageData != "" {
		result = mcp.NewToolResultImage(text, outcome.Feedback.ImageData, "image/png")
	}
	return result, nil
}

// handlePostNotification returns as soon as the notice is accepted.
func (ms *MCPServer) handlePostNotification(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := request.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	projectDir := request.GetString("project_directory", "")

	if _, err := ms.coord.SubmitNotification(ctx, summary, projectDir); err != nil {
		ms.logger.Warn("Notification failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Notification posted."), nil
}

// Serve starts the MCP server on stdio.
func (ms *MCPServer) Serve() error {
	return server.ServeStdio(ms.server)
}

// ServeHTTP starts the MCP server with HTTP/SSE transport on addr.
func (ms *MCPServer) ServeHTTP(addr string) error {
	sseServer := server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)
	return sseServer.Start(addr)
}
