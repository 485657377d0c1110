// Package mcp implements the Model Context Protocol (MCP) server for kwmatch.
//
// The server exposes the job manager as five tools:
//   - submit_matching_job: Queue a keyword-to-page matching job
//   - get_job_status: Poll status, progress and the current step
//   - cancel_job: Cancel a queued or running job
//   - get_job_result: Fetch assignments, orphans and cannibalization flags
//   - list_jobs: List known jobs, newest first
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Basic Usage
//
//	kwmatch serve
//
// # Tool: submit_matching_job
//
//	Request:
//	{
//	  "name": "submit_matching_job",
//	  "arguments": {
//	    "keywords": ["best red shoes", {"text": "running shoes", "volume": 1900}],
//	    "pages": [
//	      {"url": "https://example.com/shoes", "title": "Red Shoes", "content": "..."}
//	    ],
//	    "config": {"min_score_threshold": 0.25, "cannibalization": true}
//	  }
//	}
//
//	Response:
//	{
//	  "job_id": "5b1f0c7e-...",
//	  "status": "queued",
//	  "keywords": 2,
//	  "pages": 1
//	}
//
// Config keys use the snake_case names of config.Matching. Unknown keys are
// rejected so typos do not silently fall back to defaults.
//
// # Tool: get_job_status
//
//	Response:
//	{
//	  "job_id": "5b1f0c7e-...",
//	  "status": "running",
//	  "progress": 0.47,
//	  "step": 6,
//	  "step_label": "score keywords",
//	  "elapsed_ms": 5120,
//	  "memory_estimate_bytes": 183500800
//	}
//
// # Tool: get_job_result
//
// Only completed jobs have results. The optional limit caps assignments and
// orphans; "truncated" reports whether anything was cut.
//
// # Error Codes
//
//	-32602  Invalid params (bad arguments or rejected job input)
//	-32603  Internal error
//	-32001  Job not found
//	-32002  Job has not completed
//	-32003  Server is shutting down
package mcp
