package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		jinaKey   string
		openaiKey string
		want      string
	}{
		{"explicit jina provider", "jina", "", "", ProviderJina},
		{"explicit provider is lowercased", "OpenAI", "", "", ProviderOpenAI},
		{"explicit local provider wins over keys", "local", "k", "k", ProviderLocal},
		{"jina key present", "", "test-key", "", ProviderJina},
		{"openai key present", "", "", "test-key", ProviderOpenAI},
		{"jina preferred over openai", "", "a", "b", ProviderJina},
		{"nothing set", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openaiKey)

			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNew(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	t.Run("local with dimension", func(t *testing.T) {
		emb, err := New(Config{Provider: "local", Dimension: 64})
		require.NoError(t, err)
		assert.Equal(t, 64, emb.Dimension())
		assert.Equal(t, ProviderLocal, emb.Provider())
	})

	t.Run("empty provider falls back to detection", func(t *testing.T) {
		emb, err := New(Config{})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, emb.Provider())
		assert.Equal(t, LocalDimension, emb.Dimension())
	})

	t.Run("openai with key and dimension", func(t *testing.T) {
		emb, err := New(Config{Provider: "openai", APIKey: "k", Dimension: 384})
		require.NoError(t, err)
		assert.Equal(t, 384, emb.Dimension())
	})

	t.Run("jina without key", func(t *testing.T) {
		_, err := New(Config{Provider: "jina"})
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Config{Provider: "word2vec"})
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "env-key")

	emb, err := NewFromEnv(256)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, emb.Provider())
	assert.Equal(t, 256, emb.Dimension())
}
