// Package embeddertest provides a scriptable Embedder for tests.
package embeddertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dshills/kwmatch/internal/embedder"
)

// MockEmbedder generates vectors with VectorFunc (feature hashing by
// default) and records every call. Hook, when set, runs before each batch
// and can block or fail it.
type MockEmbedder struct {
	dimension int
	local     *embedder.LocalProvider

	// VectorFunc overrides vector generation
	VectorFunc func(text string) []float32
	// Hook runs before each GenerateBatch; a non-nil error fails the batch
	Hook func(ctx context.Context, texts []string) error

	calls atomic.Int64
	texts atomic.Int64

	mu   sync.Mutex
	seen []string
}

// New creates a mock embedder of the given dimension
func New(dimension int) *MockEmbedder {
	return &MockEmbedder{
		dimension: dimension,
		local:     embedder.NewLocalProvider(dimension),
	}
}

// GenerateEmbedding generates a single embedding
func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch generates embeddings for multiple texts
func (m *MockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := embedder.ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	m.calls.Add(1)
	m.texts.Add(int64(len(req.Texts)))
	m.mu.Lock()
	m.seen = append(m.seen, req.Texts...)
	m.mu.Unlock()

	if m.Hook != nil {
		if err := m.Hook(ctx, req.Texts); err != nil {
			return nil, err
		}
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		var vector []float32
		if m.VectorFunc != nil {
			vector = m.VectorFunc(text)
		} else {
			emb, err := m.local.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
			if err != nil {
				return nil, err
			}
			vector = emb.Vector
		}
		embeddings[i] = &embedder.Embedding{
			Vector:    vector,
			Dimension: len(vector),
			Provider:  m.Provider(),
			Model:     m.Model(),
			Hash:      embedder.ComputeHash(text),
		}
	}

	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   m.Provider(),
		Model:      m.Model(),
	}, nil
}

// Calls returns the number of GenerateBatch calls
func (m *MockEmbedder) Calls() int64 { return m.calls.Load() }

// TextsEmbedded returns the total number of texts sent to the mock
func (m *MockEmbedder) TextsEmbedded() int64 { return m.texts.Load() }

// Seen returns a copy of every text received, in call order
func (m *MockEmbedder) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.seen))
	copy(out, m.seen)
	return out
}

// Dimension returns the embedding dimension
func (m *MockEmbedder) Dimension() int { return m.dimension }

// Provider returns the provider name
func (m *MockEmbedder) Provider() string { return "mock" }

// Model returns the model name
func (m *MockEmbedder) Model() string { return "mock-v1" }

// Close releases resources (no-op for mock)
func (m *MockEmbedder) Close() error { return nil }
