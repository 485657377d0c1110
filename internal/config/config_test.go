package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kwmatch/pkg/types"
)

func TestDefaultMatchingIsValid(t *testing.T) {
	m := DefaultMatching()
	require.NoError(t, m.Validate())
	assert.Equal(t, 512, m.ChunkSize)
	assert.Equal(t, 128, m.ChunkOverlap)
	assert.Equal(t, 200, m.EfSearch)
	assert.Equal(t, 32, m.MConnections)
	assert.InDelta(t, 1.0, m.Weights.Sum(), 1e-9)
}

func TestMatchingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Matching)
		wantErr string
	}{
		{"overlap equals size", func(m *Matching) { m.ChunkOverlap = m.ChunkSize }, "chunk_overlap"},
		{"overlap exceeds size", func(m *Matching) { m.ChunkSize = 10; m.ChunkOverlap = 20 }, "chunk_overlap"},
		{"weights do not sum to one", func(m *Matching) { m.Weights.Title = 0.2 }, "sum to 1.0"},
		{"negative weight", func(m *Matching) { m.Weights.Title = -0.1; m.Weights.Numeric = 0.3 }, "non-negative"},
		{"zero dimension", func(m *Matching) { m.EmbeddingDimension = 0 }, "embedding_dimension"},
		{"threshold above one", func(m *Matching) { m.MinScoreThreshold = 1.5 }, "min_score_threshold"},
		{"NaN weight", func(m *Matching) { m.Weights.Embedding = math.NaN() }, "finite"},
		{"infinite weight", func(m *Matching) { m.Weights.BM25 = math.Inf(1) }, "finite"},
		{"NaN threshold", func(m *Matching) { m.MinScoreThreshold = math.NaN() }, "min_score_threshold"},
		{"NaN bm25 k1", func(m *Matching) { m.BM25K1 = math.NaN() }, "bm25_k1"},
		{"infinite bm25 b", func(m *Matching) { m.BM25B = math.Inf(-1) }, "bm25_b"},
		{"zero workers", func(m *Matching) { m.Workers = 0 }, "workers"},
		{"bad interval", func(m *Matching) { m.ProgressInterval = "soon" }, "progress_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DefaultMatching()
			tt.mutate(&m)

			err := m.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWeightsWithinEpsilon(t *testing.T) {
	m := DefaultMatching()
	m.Weights = Weights{Embedding: 0.1, BM25: 0.2, Title: 0.3, Numeric: 0.4}
	assert.NoError(t, m.Validate(), "floating point sum of 0.1+0.2+0.3+0.4 must pass")
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
		assert.Equal(t, DefaultChunkSize, cfg.Matching.ChunkSize)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kwmatch.yaml")
		data := []byte(`
pool_size: 4
logging:
  level: debug
matching:
  chunk_size: 256
  chunk_overlap: 32
  weights:
    embedding: 0.7
    bm25: 0.1
    title: 0.1
    numeric: 0.1
`)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.PoolSize)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 256, cfg.Matching.ChunkSize)
		assert.Equal(t, 0.7, cfg.Matching.Weights.Embedding)
		// Untouched fields keep defaults
		assert.Equal(t, DefaultEfSearch, cfg.Matching.EfSearch)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pool_size: [oops"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KWMATCH_CHUNK_SIZE", "1024")
	t.Setenv("KWMATCH_EMBEDDING_WEIGHT", "0.65")
	t.Setenv("KWMATCH_BM25_WEIGHT", "0.15")
	t.Setenv("KWMATCH_EMBEDDING_PROVIDER", "OpenAI")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Matching.ChunkSize)
	assert.Equal(t, 0.65, cfg.Matching.Weights.Embedding)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides_BadNumber(t *testing.T) {
	t.Setenv("KWMATCH_WORKERS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestEnvOverrides_NaNWeightRejected(t *testing.T) {
	t.Setenv("KWMATCH_EMBEDDING_WEIGHT", "NaN")

	cfg, err := Load("")
	if err == nil {
		err = cfg.Validate()
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Contains(t, err.Error(), "finite")
}

func TestConfigValidate(t *testing.T) {
	cfg := Default()
	cfg.SearchConsole.Enabled = true
	err := cfg.Validate()
	assert.ErrorIs(t, err, types.ErrValidation)

	cfg.SearchConsole.SiteURL = "sc-domain:example.com"
	assert.NoError(t, cfg.Validate())
}

func TestResolveDBPath(t *testing.T) {
	cfg := Default()
	cfg.DBPath = ":memory:"
	p, err := cfg.ResolveDBPath()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", p)

	cfg.DBPath = "~/x/kw.db"
	p, err = cfg.ResolveDBPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
	assert.Equal(t, "kw.db", filepath.Base(p))
}

func TestMatchingWithOverrides(t *testing.T) {
	base := DefaultMatching()

	tests := []struct {
		name    string
		data    string
		check   func(t *testing.T, m Matching)
		wantErr bool
	}{
		{
			name:  "empty",
			data:  "",
			check: func(t *testing.T, m Matching) { assert.Equal(t, base, m) },
		},
		{
			name:  "null",
			data:  "null",
			check: func(t *testing.T, m Matching) { assert.Equal(t, base, m) },
		},
		{
			name: "partial weights",
			data: `{"weights": {"bm25": 0.5}, "top_suggestions": 5}`,
			check: func(t *testing.T, m Matching) {
				assert.Equal(t, 0.5, m.Weights.BM25)
				assert.Equal(t, base.Weights.Embedding, m.Weights.Embedding)
				assert.Equal(t, 5, m.TopSuggestions)
				assert.Equal(t, base.ChunkSize, m.ChunkSize)
			},
		},
		{name: "unknown key", data: `{"chunk_sise": 100}`, wantErr: true},
		{name: "wrong type", data: `{"chunk_size": "big"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.WithOverrides([]byte(tt.data))
			if tt.wantErr {
				assert.True(t, errors.Is(err, types.ErrValidation))
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}

	assert.Equal(t, DefaultMatching(), base, "receiver is not modified")
}
