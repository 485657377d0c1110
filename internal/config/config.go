package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/kwmatch/pkg/types"
)

// Matching defaults
const (
	DefaultChunkSize          = 512
	DefaultChunkOverlap       = 128
	DefaultEmbeddingDimension = 384
	DefaultEfSearch           = 200
	DefaultMConnections       = 32
	DefaultEfConstruction     = 200
	DefaultMinScoreThreshold  = 0.20
	DefaultTopSuggestions     = 3
	DefaultTopKRetrieval      = 20
	DefaultBatchSize          = 100
	DefaultBM25K1             = 1.2
	DefaultBM25B              = 0.75
	DefaultTitleBoost         = 1
	DefaultWindowDays         = 90
	DefaultProgressInterval   = "500ms"

	MaxKeywords = 1_000_000
	MaxPages    = 50_000

	weightEpsilon = 1e-6
)

// Server defaults
const (
	DefaultPoolSize     = 2
	DefaultRetainedJobs = 100
	DefaultDBPath       = "~/.kwmatch/kwmatch.db"
	DefaultLogLevel     = "info"
)

// Weights are the fusion weights. They must be non-negative and sum to 1.
type Weights struct {
	Embedding float64 `yaml:"embedding" json:"embedding"`
	BM25      float64 `yaml:"bm25" json:"bm25"`
	Title     float64 `yaml:"title" json:"title"`
	Numeric   float64 `yaml:"numeric" json:"numeric"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Embedding + w.BM25 + w.Title + w.Numeric
}

// Matching is the per-job configuration. It is captured by value at
// submission and never changes for the lifetime of the job.
type Matching struct {
	ChunkSize          int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap       int `yaml:"chunk_overlap" json:"chunk_overlap"`
	EmbeddingDimension int `yaml:"embedding_dimension" json:"embedding_dimension"`

	EfSearch       int   `yaml:"ef_search" json:"ef_search"`
	MConnections   int   `yaml:"m_connections" json:"m_connections"`
	EfConstruction int   `yaml:"ef_construction" json:"ef_construction"`
	IndexSeed      int64 `yaml:"index_seed" json:"index_seed"`

	Weights           Weights `yaml:"weights" json:"weights"`
	MinScoreThreshold float64 `yaml:"min_score_threshold" json:"min_score_threshold"`
	TopSuggestions    int     `yaml:"top_suggestions" json:"top_suggestions"`
	TopKRetrieval     int     `yaml:"top_k_retrieval" json:"top_k_retrieval"`

	BM25K1     float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B      float64 `yaml:"bm25_b" json:"bm25_b"`
	TitleBoost int     `yaml:"title_boost" json:"title_boost"`

	BatchSize int `yaml:"batch_size" json:"batch_size"`
	Workers   int `yaml:"workers" json:"workers"`

	Cannibalization           bool `yaml:"cannibalization" json:"cannibalization"`
	CannibalizationWindowDays int  `yaml:"cannibalization_window_days" json:"cannibalization_window_days"`

	ProgressInterval string `yaml:"progress_interval" json:"progress_interval"`
}

// DefaultMatching returns the default per-job configuration.
func DefaultMatching() Matching {
	return Matching{
		ChunkSize:          DefaultChunkSize,
		ChunkOverlap:       DefaultChunkOverlap,
		EmbeddingDimension: DefaultEmbeddingDimension,
		EfSearch:           DefaultEfSearch,
		MConnections:       DefaultMConnections,
		EfConstruction:     DefaultEfConstruction,
		IndexSeed:          42,
		Weights: Weights{
			Embedding: 0.55,
			BM25:      0.25,
			Title:     0.10,
			Numeric:   0.10,
		},
		MinScoreThreshold:         DefaultMinScoreThreshold,
		TopSuggestions:            DefaultTopSuggestions,
		TopKRetrieval:             DefaultTopKRetrieval,
		BM25K1:                    DefaultBM25K1,
		BM25B:                     DefaultBM25B,
		TitleBoost:                DefaultTitleBoost,
		BatchSize:                 DefaultBatchSize,
		Workers:                   runtime.NumCPU(),
		Cannibalization:           true,
		CannibalizationWindowDays: DefaultWindowDays,
		ProgressInterval:          DefaultProgressInterval,
	}
}

// finite reports whether no value is NaN or infinite
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks the configuration. Every error wraps types.ErrValidation.
func (m Matching) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m.ChunkSize <= 0 {
		add("chunk_size must be positive, got %d", m.ChunkSize)
	}
	if m.ChunkOverlap < 0 || m.ChunkOverlap >= m.ChunkSize {
		add("chunk_overlap must be in [0, chunk_size), got %d", m.ChunkOverlap)
	}
	if m.EmbeddingDimension <= 0 {
		add("embedding_dimension must be positive, got %d", m.EmbeddingDimension)
	}
	if m.EfSearch <= 0 {
		add("ef_search must be positive, got %d", m.EfSearch)
	}
	if m.MConnections < 2 {
		add("m_connections must be >= 2, got %d", m.MConnections)
	}
	if m.EfConstruction <= 0 {
		add("ef_construction must be positive, got %d", m.EfConstruction)
	}

	w := m.Weights
	switch {
	case !finite(w.Embedding, w.BM25, w.Title, w.Numeric):
		add("weights must be finite numbers")
	case w.Embedding < 0 || w.BM25 < 0 || w.Title < 0 || w.Numeric < 0:
		add("weights must be non-negative")
	case math.Abs(w.Sum()-1.0) > weightEpsilon:
		add("weights must sum to 1.0, got %.6f", w.Sum())
	}

	if !finite(m.MinScoreThreshold) || m.MinScoreThreshold < 0 || m.MinScoreThreshold > 1 {
		add("min_score_threshold must be in [0,1], got %v", m.MinScoreThreshold)
	}
	if m.TopSuggestions < 0 {
		add("top_suggestions must be non-negative, got %d", m.TopSuggestions)
	}
	if m.TopKRetrieval <= 0 {
		add("top_k_retrieval must be positive, got %d", m.TopKRetrieval)
	}
	if !finite(m.BM25K1) || m.BM25K1 < 0 {
		add("bm25_k1 must be non-negative, got %v", m.BM25K1)
	}
	if !finite(m.BM25B) || m.BM25B < 0 || m.BM25B > 1 {
		add("bm25_b must be in [0,1], got %v", m.BM25B)
	}
	if m.TitleBoost < 0 {
		add("title_boost must be non-negative, got %d", m.TitleBoost)
	}
	if m.BatchSize <= 0 {
		add("batch_size must be positive, got %d", m.BatchSize)
	}
	if m.Workers <= 0 {
		add("workers must be positive, got %d", m.Workers)
	}
	if m.Cannibalization && m.CannibalizationWindowDays <= 0 {
		add("cannibalization_window_days must be positive, got %d", m.CannibalizationWindowDays)
	}
	if _, err := time.ParseDuration(m.ProgressInterval); m.ProgressInterval != "" && err != nil {
		add("progress_interval: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// WithOverrides returns a copy of m with the JSON object data applied on
// top. Keys use the json names of Matching; unknown keys are an error. The
// result is not validated.
func (m Matching) WithOverrides(data []byte) (Matching, error) {
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Matching{}, fmt.Errorf("%w: config overrides: %v", types.ErrValidation, err)
	}
	return m, nil
}

// GetProgressInterval returns the minimum interval between progress
// snapshots during the scoring step.
func (m Matching) GetProgressInterval() time.Duration {
	d, err := time.ParseDuration(m.ProgressInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // jina, openai, local
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	// Persist embeddings in the database so later jobs reuse them.
	Persistent bool `yaml:"persistent"`
}

// SearchConsoleConfig configures the top-URL signal for cannibalization.
type SearchConsoleConfig struct {
	Enabled      bool    `yaml:"enabled"`
	SiteURL      string  `yaml:"site_url"`
	ClientID     string  `yaml:"client_id"`
	ClientSecret string  `yaml:"client_secret"`
	RefreshToken string  `yaml:"refresh_token"`
	AccessToken  string  `yaml:"access_token"`
	RowLimit     int     `yaml:"row_limit"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
	Burst        int     `yaml:"burst"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Config is the process-level configuration.
type Config struct {
	PoolSize      int                 `yaml:"pool_size"`
	RetainedJobs  int                 `yaml:"retained_jobs"`
	DBPath        string              `yaml:"db_path"`
	MetricsAddr   string              `yaml:"metrics_addr"`
	Logging       LoggingConfig       `yaml:"logging"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	SearchConsole SearchConsoleConfig `yaml:"search_console"`
	Matching      Matching            `yaml:"matching"`
}

// Default returns the default process configuration.
func Default() *Config {
	return &Config{
		PoolSize:     DefaultPoolSize,
		RetainedJobs: DefaultRetainedJobs,
		DBPath:       DefaultDBPath,
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Embedding: EmbeddingConfig{
			Provider: "local",
		},
		SearchConsole: SearchConsoleConfig{
			RowLimit:   5000,
			RatePerSec: 5.0,
			Burst:      10,
		},
		Matching: DefaultMatching(),
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the process configuration and the default matching
// configuration.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("%w: pool_size must be positive, got %d", types.ErrValidation, c.PoolSize)
	}
	if c.RetainedJobs <= 0 {
		return fmt.Errorf("%w: retained_jobs must be positive, got %d", types.ErrValidation, c.RetainedJobs)
	}
	if c.SearchConsole.Enabled && c.SearchConsole.SiteURL == "" {
		return fmt.Errorf("%w: search_console.site_url is required when enabled", types.ErrValidation)
	}
	return c.Matching.Validate()
}

// ResolveDBPath expands a leading ~ in DBPath.
func (c *Config) ResolveDBPath() (string, error) {
	if c.DBPath == "" || c.DBPath == ":memory:" {
		return c.DBPath, nil
	}
	if strings.HasPrefix(c.DBPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, c.DBPath[2:]), nil
	}
	return c.DBPath, nil
}

// applyEnvOverrides applies KWMATCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("KWMATCH_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("KWMATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KWMATCH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("KWMATCH_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("KWMATCH_SEARCH_CONSOLE_SITE"); v != "" {
		c.SearchConsole.SiteURL = v
		c.SearchConsole.Enabled = true
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"KWMATCH_POOL_SIZE", &c.PoolSize},
		{"KWMATCH_CHUNK_SIZE", &c.Matching.ChunkSize},
		{"KWMATCH_CHUNK_OVERLAP", &c.Matching.ChunkOverlap},
		{"KWMATCH_EMBEDDING_DIMENSION", &c.Matching.EmbeddingDimension},
		{"KWMATCH_EF_SEARCH", &c.Matching.EfSearch},
		{"KWMATCH_M_CONNECTIONS", &c.Matching.MConnections},
		{"KWMATCH_TOP_SUGGESTIONS", &c.Matching.TopSuggestions},
		{"KWMATCH_TOP_K_RETRIEVAL", &c.Matching.TopKRetrieval},
		{"KWMATCH_BATCH_SIZE", &c.Matching.BatchSize},
		{"KWMATCH_WORKERS", &c.Matching.Workers},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrValidation, o.env, err)
		}
		*o.dst = n
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{"KWMATCH_EMBEDDING_WEIGHT", &c.Matching.Weights.Embedding},
		{"KWMATCH_BM25_WEIGHT", &c.Matching.Weights.BM25},
		{"KWMATCH_TITLE_WEIGHT", &c.Matching.Weights.Title},
		{"KWMATCH_NUMERIC_WEIGHT", &c.Matching.Weights.Numeric},
		{"KWMATCH_MIN_SCORE_THRESHOLD", &c.Matching.MinScoreThreshold},
	}
	for _, o := range floats {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrValidation, o.env, err)
		}
		*o.dst = f
	}

	return nil
}
