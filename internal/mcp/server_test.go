package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/embedder"
	"github.com/dshills/kwmatch/internal/embedder/embeddertest"
	"github.com/dshills/kwmatch/internal/jobs"
	"github.com/dshills/kwmatch/internal/matcher"
)

const testDimension = 64

func newTestServer(t *testing.T, mock *embeddertest.MockEmbedder) (*Server, *jobs.Manager) {
	t.Helper()
	mgr, err := jobs.NewManager(matcher.New(embedder.NewCache(mock)), jobs.Config{PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	defaults := config.DefaultMatching()
	defaults.EmbeddingDimension = testDimension
	defaults.ProgressInterval = "1ns"
	return NewServer(mgr, defaults, nil), mgr
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected *MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
}

func submitArgsFixture() map[string]interface{} {
	return map[string]interface{}{
		"keywords": []interface{}{
			"red shoes",
			map[string]interface{}{"text": "blue hats", "volume": float64(1900)},
		},
		"pages": []interface{}{
			map[string]interface{}{"url": "/shoes", "title": "Red Shoes", "content": "red shoes for running"},
			map[string]interface{}{"url": "/hats", "title": "Blue Hats", "content": "blue hats for winter"},
		},
	}
}

func submit(t *testing.T, s *Server, args map[string]interface{}) string {
	t.Helper()
	res, err := s.handleSubmitMatchingJob(context.Background(), callRequest("submit_matching_job", args))
	require.NoError(t, err)
	out := decodeResult(t, res)
	id, ok := out["job_id"].(string)
	require.True(t, ok)
	return id
}

func waitJob(t *testing.T, mgr *jobs.Manager, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := mgr.Wait(ctx, id)
	require.NoError(t, err)
}

func TestServer_SubmitAndFetchResult(t *testing.T) {
	s, mgr := newTestServer(t, embeddertest.New(testDimension))

	id := submit(t, s, submitArgsFixture())
	waitJob(t, mgr, id)

	res, err := s.handleGetJobStatus(context.Background(), callRequest("get_job_status", map[string]interface{}{"job_id": id}))
	require.NoError(t, err)
	status := decodeResult(t, res)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, 1.0, status["progress"])
	assert.Contains(t, status, "finished_at")
	assert.NotContains(t, status, "error")

	res, err = s.handleGetJobResult(context.Background(), callRequest("get_job_result", map[string]interface{}{"job_id": id}))
	require.NoError(t, err)
	result := decodeResult(t, res)
	assert.Equal(t, id, result["job_id"])
	assert.Equal(t, false, result["truncated"])

	assignments := result["assignments"].([]interface{})
	orphans := result["orphans"].([]interface{})
	assert.Equal(t, 2, len(assignments)+len(orphans))

	stats := result["summary_stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["total_keywords"])
}

func TestServer_ResultLimit(t *testing.T) {
	s, mgr := newTestServer(t, embeddertest.New(testDimension))

	args := submitArgsFixture()
	var keywords []interface{}
	for i := 0; i < 5; i++ {
		keywords = append(keywords, fmt.Sprintf("red shoes %d", i))
	}
	args["keywords"] = keywords
	args["config"] = map[string]interface{}{"min_score_threshold": float64(0)}

	id := submit(t, s, args)
	waitJob(t, mgr, id)

	res, err := s.handleGetJobResult(context.Background(), callRequest("get_job_result", map[string]interface{}{
		"job_id": id,
		"limit":  float64(2),
	}))
	require.NoError(t, err)
	result := decodeResult(t, res)
	assert.LessOrEqual(t, len(result["assignments"].([]interface{})), 2)
	assert.LessOrEqual(t, len(result["orphans"].([]interface{})), 2)
	assert.Equal(t, true, result["truncated"])
}

func TestServer_SubmitErrors(t *testing.T) {
	s, _ := newTestServer(t, embeddertest.New(testDimension))

	tests := []struct {
		name   string
		mutate func(args map[string]interface{})
	}{
		{"no keywords", func(args map[string]interface{}) { args["keywords"] = []interface{}{} }},
		{"no pages", func(args map[string]interface{}) { delete(args, "pages") }},
		{"bad keyword type", func(args map[string]interface{}) { args["keywords"] = []interface{}{float64(3)} }},
		{"unknown config key", func(args map[string]interface{}) {
			args["config"] = map[string]interface{}{"chunk_sise": float64(100)}
		}},
		{"invalid config value", func(args map[string]interface{}) {
			args["config"] = map[string]interface{}{"chunk_size": float64(-1)}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := submitArgsFixture()
			tt.mutate(args)
			res, err := s.handleSubmitMatchingJob(context.Background(), callRequest("submit_matching_job", args))
			assert.Nil(t, res)
			requireCode(t, err, ErrorCodeInvalidParams)
		})
	}
}

func TestServer_JobIDErrors(t *testing.T) {
	s, _ := newTestServer(t, embeddertest.New(testDimension))

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"get_job_status": s.handleGetJobStatus,
		"cancel_job":     s.handleCancelJob,
		"get_job_result": s.handleGetJobResult,
	}

	for name, h := range handlers {
		t.Run(name+" missing", func(t *testing.T) {
			_, err := h(context.Background(), callRequest(name, map[string]interface{}{}))
			requireCode(t, err, ErrorCodeInvalidParams)
		})
		t.Run(name+" unknown", func(t *testing.T) {
			_, err := h(context.Background(), callRequest(name, map[string]interface{}{"job_id": "nope"}))
			requireCode(t, err, ErrorCodeJobNotFound)
		})
	}
}

func TestServer_ResultOfFailedJob(t *testing.T) {
	mock := embeddertest.New(testDimension)
	mock.Hook = func(ctx context.Context, texts []string) error {
		return errors.New("quota exceeded")
	}
	s, mgr := newTestServer(t, mock)

	id := submit(t, s, submitArgsFixture())
	waitJob(t, mgr, id)

	res, err := s.handleGetJobStatus(context.Background(), callRequest("get_job_status", map[string]interface{}{"job_id": id}))
	require.NoError(t, err)
	status := decodeResult(t, res)
	assert.Equal(t, "failed", status["status"])
	assert.Contains(t, status["error"], "quota exceeded")

	_, err = s.handleGetJobResult(context.Background(), callRequest("get_job_result", map[string]interface{}{"job_id": id}))
	requireCode(t, err, ErrorCodeJobNotCompleted)
}

func TestServer_CancelFinishedJob(t *testing.T) {
	s, mgr := newTestServer(t, embeddertest.New(testDimension))

	id := submit(t, s, submitArgsFixture())
	waitJob(t, mgr, id)

	res, err := s.handleCancelJob(context.Background(), callRequest("cancel_job", map[string]interface{}{"job_id": id}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "completed", out["status"])
	assert.NotContains(t, out, "message")
}

func TestServer_ListJobs(t *testing.T) {
	s, mgr := newTestServer(t, embeddertest.New(testDimension))

	var ids []string
	for i := 0; i < 3; i++ {
		id := submit(t, s, submitArgsFixture())
		waitJob(t, mgr, id)
		ids = append(ids, id)
	}

	res, err := s.handleListJobs(context.Background(), callRequest("list_jobs", map[string]interface{}{"limit": float64(2)}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, float64(2), out["count"])
	assert.Equal(t, float64(3), out["total"])

	res, err = s.handleListJobs(context.Background(), callRequest("list_jobs", nil))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, float64(3), out["count"])

	res, err = s.handleListJobs(context.Background(), callRequest("list_jobs", map[string]interface{}{"status": "failed"}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, float64(0), out["count"])

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"bad status", map[string]interface{}{"status": "done"}},
		{"limit too small", map[string]interface{}{"limit": float64(0)}},
		{"limit too large", map[string]interface{}{"limit": float64(101)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleListJobs(context.Background(), callRequest("list_jobs", tt.args))
			requireCode(t, err, ErrorCodeInvalidParams)
		})
	}
}

func TestServer_SubmitAfterClose(t *testing.T) {
	s, mgr := newTestServer(t, embeddertest.New(testDimension))
	require.NoError(t, mgr.Close())

	_, err := s.handleSubmitMatchingJob(context.Background(), callRequest("submit_matching_job", submitArgsFixture()))
	requireCode(t, err, ErrorCodeShuttingDown)
}

func TestServer_ToolsRegistered(t *testing.T) {
	s, _ := newTestServer(t, embeddertest.New(testDimension))

	resp := s.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{"submit_matching_job", "get_job_status", "cancel_job", "get_job_result", "list_jobs"} {
		assert.Contains(t, string(raw), `"name":"`+name+`"`)
	}
}
