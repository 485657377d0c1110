package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/kwmatch/internal/jobs"
	"github.com/dshills/kwmatch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeJobNotFound     = -32001 // No job with the given ID
	ErrorCodeJobNotCompleted = -32002 // Result requested before completion
	ErrorCodeShuttingDown    = -32003 // Server no longer accepts jobs
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type submitArgs struct {
	Keywords []types.Keyword `json:"keywords"`
	Pages    []types.Page    `json:"pages"`
	Config   json.RawMessage `json:"config"`
}

// handleSubmitMatchingJob handles the submit_matching_job tool invocation
func (s *Server) handleSubmitMatchingJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	var in submitArgs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid keywords or pages", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	cfg, err := s.defaults.WithOverrides(in.Config)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid config", map[string]interface{}{
			"param":  "config",
			"reason": err.Error(),
		})
	}

	id, err := s.jobs.Submit(in.Keywords, in.Pages, cfg)
	if err != nil {
		return nil, jobError(err)
	}

	response := map[string]interface{}{
		"job_id":   id,
		"status":   types.StatusQueued,
		"keywords": len(in.Keywords),
		"pages":    len(in.Pages),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetJobStatus handles the get_job_status tool invocation
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := jobIDArg(request)
	if err != nil {
		return nil, err
	}

	snap, err := s.jobs.Status(id)
	if err != nil {
		return nil, jobError(err)
	}
	return mcp.NewToolResultText(formatJSON(jobResponse(snap))), nil
}

// handleCancelJob handles the cancel_job tool invocation
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := jobIDArg(request)
	if err != nil {
		return nil, err
	}

	if err := s.jobs.Cancel(id); err != nil {
		return nil, jobError(err)
	}
	snap, err := s.jobs.Status(id)
	if err != nil {
		return nil, jobError(err)
	}

	response := map[string]interface{}{
		"job_id": id,
		"status": snap.Status,
	}
	if snap.Status == types.StatusRunning {
		response["message"] = "Cancellation requested. The job stops at its next step, batch or keyword boundary."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetJobResult handles the get_job_result tool invocation
func (s *Server) handleGetJobResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := jobIDArg(request)
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	limit := getIntDefault(args, "limit", 0)
	if limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must not be negative", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	result, err := s.jobs.Result(id)
	if err != nil {
		return nil, jobError(err)
	}

	assignments := result.Assignments
	orphans := result.Orphans
	truncated := false
	if limit > 0 && len(assignments) > limit {
		assignments = assignments[:limit]
		truncated = true
	}
	if limit > 0 && len(orphans) > limit {
		orphans = orphans[:limit]
		truncated = true
	}

	response := map[string]interface{}{
		"job_id":                result.JobID,
		"assignments":           assignments,
		"orphans":               orphans,
		"cannibalization_flags": result.CannibalizationFlags,
		"threshold":             result.Threshold,
		"summary_stats":         result.Stats,
		"truncated":             truncated,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListJobs handles the list_jobs tool invocation
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok && request.Params.Arguments != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	status := types.Status(getStringDefault(args, "status", ""))
	switch status {
	case "", types.StatusQueued, types.StatusRunning, types.StatusCompleted, types.StatusFailed, types.StatusCancelled:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid status", map[string]interface{}{
			"param": "status",
			"value": status,
		})
	}

	limit := getIntDefault(args, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	all, err := s.jobs.List(status)
	if err != nil {
		return nil, jobError(err)
	}

	listed := all
	if len(listed) > limit {
		listed = listed[:limit]
	}
	out := make([]map[string]interface{}, len(listed))
	for i, snap := range listed {
		out[i] = jobResponse(snap)
	}

	response := map[string]interface{}{
		"jobs":  out,
		"count": len(out),
		"total": len(all),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// jobResponse renders a job snapshot for tool output
func jobResponse(snap types.Job) map[string]interface{} {
	response := map[string]interface{}{
		"job_id":                snap.ID,
		"status":                snap.Status,
		"progress":              snap.Progress,
		"step":                  int(snap.Step),
		"step_label":            snap.StepLabel,
		"created_at":            snap.CreatedAt.Format(time.RFC3339),
		"elapsed_ms":            snap.Elapsed.Milliseconds(),
		"memory_estimate_bytes": snap.MemoryEstimate,
	}
	if !snap.StartedAt.IsZero() {
		response["started_at"] = snap.StartedAt.Format(time.RFC3339)
	}
	if !snap.FinishedAt.IsZero() {
		response["finished_at"] = snap.FinishedAt.Format(time.RFC3339)
	}
	if snap.Error != "" {
		response["error"] = snap.Error
	}
	return response
}

// jobIDArg extracts the required job_id parameter
func jobIDArg(request mcp.CallToolRequest) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, ok := args["job_id"].(string)
	if !ok || id == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "job_id parameter is required", map[string]interface{}{
			"param":  "job_id",
			"reason": "missing or empty",
		})
	}
	return id, nil
}

// jobError maps job manager errors to MCP errors
func jobError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrValidation):
		return newMCPError(ErrorCodeInvalidParams, "invalid job input", data)
	case errors.Is(err, types.ErrJobNotFound):
		return newMCPError(ErrorCodeJobNotFound, "job not found", data)
	case errors.Is(err, types.ErrJobNotCompleted):
		return newMCPError(ErrorCodeJobNotCompleted, "job has not completed", data)
	case errors.Is(err, jobs.ErrClosed):
		return newMCPError(ErrorCodeShuttingDown, "server is shutting down", data)
	default:
		return newMCPError(ErrorCodeInternalError, "internal error", data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

func logToolError(logger *zap.Logger, tool string, err error) {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) && mcpErr.Code == ErrorCodeInternalError {
		logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
		return
	}
	logger.Debug("tool rejected request", zap.String("tool", tool), zap.Error(err))
}
