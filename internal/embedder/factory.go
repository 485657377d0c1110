package embedder

import (
	"fmt"
	"os"
	"strings"
)

// EnvProvider selects the provider when no explicit configuration is given
const EnvProvider = "KWMATCH_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. KWMATCH_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv(dimension int) (Embedder, error) {
	return New(Config{Provider: DetectProvider(), Dimension: dimension})
}

// New creates an embedder with explicit configuration. An empty provider
// name is resolved with DetectProvider.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	opts := []ProviderOption{WithBaseURL(cfg.BaseURL), WithModel(cfg.Model), WithDimension(cfg.Dimension)}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, opts...)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, opts...)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
