package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/kwmatch/pkg/types"
)

func jobIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Job ID returned by submit_matching_job",
	}
}

// submitMatchingJobTool returns the tool definition for submit_matching_job
func submitMatchingJobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "submit_matching_job",
		Description: "Queue a job that assigns each keyword to the best page of a site",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"keywords": map[string]interface{}{
					"type":        "array",
					"description": "Keywords as strings or {text, volume} objects",
					"items": map[string]interface{}{
						"oneOf": []interface{}{
							map[string]interface{}{"type": "string"},
							map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"text":   map[string]interface{}{"type": "string"},
									"volume": map[string]interface{}{"type": "number", "minimum": 0},
								},
								"required": []string{"text"},
							},
						},
					},
				},
				"pages": map[string]interface{}{
					"type":        "array",
					"description": "Corpus pages",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"url":     map[string]interface{}{"type": "string"},
							"title":   map[string]interface{}{"type": "string"},
							"content": map[string]interface{}{"type": "string"},
						},
						"required": []string{"url"},
					},
				},
				"config": map[string]interface{}{
					"type":        "object",
					"description": "Matching overrides, e.g. {\"min_score_threshold\": 0.3, \"weights\": {\"bm25\": 0.4}}",
				},
			},
			Required: []string{"keywords", "pages"},
		},
	}
}

// getJobStatusTool returns the tool definition for get_job_status
func getJobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_job_status",
		Description: "Get the status, progress and current step of a matching job",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"job_id": jobIDProperty()},
			Required:   []string{"job_id"},
		},
	}
}

// cancelJobTool returns the tool definition for cancel_job
func cancelJobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel a queued or running matching job",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"job_id": jobIDProperty()},
			Required:   []string{"job_id"},
		},
	}
}

// getJobResultTool returns the tool definition for get_job_result
func getJobResultTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_job_result",
		Description: "Get assignments, orphans and cannibalization flags of a completed job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": jobIDProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of assignments and orphans to return (0 for all)",
					"default":     0,
					"minimum":     0,
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// listJobsTool returns the tool definition for list_jobs
func listJobsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_jobs",
		Description: "List known matching jobs, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Only list jobs in this status",
					"enum": []string{
						string(types.StatusQueued),
						string(types.StatusRunning),
						string(types.StatusCompleted),
						string(types.StatusFailed),
						string(types.StatusCancelled),
					},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of jobs to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
			},
		},
	}
}
