// Package mcp implements the Model Context Protocol server for synapse.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/synapselabs/synapse/internal/analyzer"
	"github.com/synapselabs/synapse/internal/history"
	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/internal/queue"
)

// Server wraps an MCPServer with synapse dependencies.
type Server struct {
	mcp     *mcpserver.MCPServer
	an      *analyzer.Analyzer
	queue   *queue.Queue
	history *history.Store
	logger  *slog.Logger
}

// NewServer creates a new MCP server. queue and history may be nil; the
// corresponding tool calls then return an error response instead of
// panicking.
func NewServer(an *analyzer.Analyzer, q *queue.Queue, hist *history.Store, logger *slog.Logger) *Server {
	s := &Server{
		an:      an,
		queue:   q,
		history: hist,
		logger:  logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"synapse",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildAnalyzeTool(), s.handleAnalyze)
	mcpSrv.AddTool(buildSubmitTool(), s.handleSubmit)
	mcpSrv.AddTool(buildStatusTool(), s.handleStatus)
	mcpSrv.AddTool(buildCancelTool(), s.handleCancel)
	mcpSrv.AddTool(buildUsageTool(), s.handleUsage)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleAnalyze is the exported handler for the "analyze_memory" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleAnalyze(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleAnalyze(ctx, req)
}

// HandleSubmit is the exported handler for the "submit_analysis" tool.
func (s *Server) HandleSubmit(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleSubmit(ctx, req)
}

// HandleStatus is the exported handler for the "analysis_status" tool.
func (s *Server) HandleStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStatus(ctx, req)
}

// HandleCancel is the exported handler for the "cancel_analysis" tool.
func (s *Server) HandleCancel(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCancel(ctx, req)
}

// HandleUsage is the exported handler for the "usage_stats" tool.
func (s *Server) HandleUsage(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleUsage(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// optionsFromRequest reads the shared analysis parameters.
func optionsFromRequest(req mcpgo.CallToolRequest) models.AnalysisOptions {
	var focus []string
	for _, f := range strings.Split(req.GetString("focus_areas", ""), ",") {
		if f = strings.TrimSpace(f); f != "" {
			focus = append(focus, f)
		}
	}
	return models.AnalysisOptions{
		Depth:      req.GetString("depth", ""),
		FocusAreas: focus,
		Priority:   models.ParsePriority(req.GetString("priority", "")),
	}
}

// --- tool definitions ---

func buildAnalyzeTool() mcpgo.Tool {
	return mcpgo.NewTool("analyze_memory",
		mcpgo.WithDescription("Analyze a memory snapshot synchronously: discover cross-insight connections and meta-patterns. Returns the structured result."),
		mcpgo.WithString("ref",
			mcpgo.Required(),
			mcpgo.Description("Reference to the memory snapshot to analyze"),
		),
		mcpgo.WithString("depth",
			mcpgo.Description("Analysis depth: standard or deep (default: standard)"),
		),
		mcpgo.WithString("focus_areas",
			mcpgo.Description("Comma-separated topics to focus the analysis on"),
		),
	)
}

func buildSubmitTool() mcpgo.Tool {
	return mcpgo.NewTool("submit_analysis",
		mcpgo.WithDescription("Queue an analysis to run in the background. Returns the request ID for polling."),
		mcpgo.WithString("ref",
			mcpgo.Required(),
			mcpgo.Description("Reference to the memory snapshot to analyze"),
		),
		mcpgo.WithString("depth",
			mcpgo.Description("Analysis depth: standard or deep (default: standard)"),
		),
		mcpgo.WithString("focus_areas",
			mcpgo.Description("Comma-separated topics to focus the analysis on"),
		),
		mcpgo.WithString("priority",
			mcpgo.Description("Queue priority: low, normal, high, or urgent (default: normal)"),
		),
	)
}

func buildStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("analysis_status",
		mcpgo.WithDescription("Check a queued analysis by ID. Includes the result once completed."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The request ID returned by submit_analysis"),
		),
	)
}

func buildCancelTool() mcpgo.Tool {
	return mcpgo.NewTool("cancel_analysis",
		mcpgo.WithDescription("Cancel a queued analysis by ID. In-flight requests are flagged and discarded when their current call finishes."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The request ID to cancel"),
		),
	)
}

func buildUsageTool() mcpgo.Tool {
	return mcpgo.NewTool("usage_stats",
		mcpgo.WithDescription("Get usage analytics: total analyses, total connections found, and daily usage counts."),
	)
}

// --- tool handlers ---

// handleAnalyze runs a synchronous analysis.
func (s *Server) handleAnalyze(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	ref := req.GetString("ref", "")
	if strings.TrimSpace(ref) == "" {
		return mcpgo.NewToolResultError("ref is required and must not be empty"), nil
	}

	result, err := s.an.Analyze(ctx, ref, optionsFromRequest(req))
	if err != nil {
		info := analyzer.ErrorInfoFor(err)
		return mcpgo.NewToolResultErrorf("%s: %s", info.Code, info.Message), nil
	}

	s.logger.Info("mcp: analysis complete", "ref", ref,
		"connections", len(result.Connections), "cache_hit", result.Metadata.CacheHit)
	return toolResultJSON(result)
}

// handleSubmit enqueues a background analysis.
func (s *Server) handleSubmit(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.queue == nil {
		return mcpgo.NewToolResultError("queue is unavailable"), nil
	}

	ref := req.GetString("ref", "")
	if strings.TrimSpace(ref) == "" {
		return mcpgo.NewToolResultError("ref is required and must not be empty"), nil
	}

	opts := optionsFromRequest(req)
	fp, err := s.an.Fingerprint(ref, opts)
	if err != nil {
		info := analyzer.ErrorInfoFor(err)
		return mcpgo.NewToolResultErrorf("%s: %s", info.Code, info.Message), nil
	}

	id, err := s.queue.Submit(&models.AnalysisRequest{
		Ref:         ref,
		Fingerprint: fp,
		Options:     opts,
		Priority:    opts.Priority,
	})
	if err != nil {
		info := analyzer.ErrorInfoFor(err)
		return mcpgo.NewToolResultErrorf("%s: %s", info.Code, info.Message), nil
	}

	s.logger.Info("mcp: analysis queued", "id", id, "ref", ref, "priority", opts.Priority.String())

	result := map[string]any{
		"id":    id,
		"state": models.StateQueued,
	}
	return toolResultJSON(result)
}

// handleStatus returns the full request, including result or error once
// terminal.
func (s *Server) handleStatus(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.queue == nil {
		return mcpgo.NewToolResultError("queue is unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}

	r, err := s.queue.Get(id)
	if err != nil {
		return mcpgo.NewToolResultErrorf("status failed: %s", err.Error()), nil
	}
	return toolResultJSON(r)
}

// handleCancel cancels a queued request.
func (s *Server) handleCancel(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.queue == nil {
		return mcpgo.NewToolResultError("queue is unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}

	cancelled, err := s.queue.Cancel(id)
	if err != nil {
		return mcpgo.NewToolResultErrorf("cancel failed: %s", err.Error()), nil
	}

	state, _ := s.queue.Status(id)
	result := map[string]any{
		"cancelled": cancelled,
		"state":     state,
	}
	return toolResultJSON(result)
}

// handleUsage returns the analytics roll-up.
func (s *Server) handleUsage(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.history == nil {
		return mcpgo.NewToolResultError("history is unavailable"), nil
	}

	usage, err := s.history.Usage()
	if err != nil {
		return mcpgo.NewToolResultErrorf("usage failed: %s", err.Error()), nil
	}
	return toolResultJSON(usage)
}
