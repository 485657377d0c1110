package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/embedder"
	"github.com/dshills/kwmatch/internal/jobs"
	"github.com/dshills/kwmatch/internal/logging"
	"github.com/dshills/kwmatch/internal/matcher"
	"github.com/dshills/kwmatch/internal/metrics"
	"github.com/dshills/kwmatch/internal/searchconsole"
	"github.com/dshills/kwmatch/internal/storage"
)

// app holds the wired components shared by the commands
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.SQLiteStorage
	provider embedder.Embedder
	cache    *embedder.Cache
	metrics  *metrics.Metrics
	jobs     *jobs.Manager
}

// loadConfig reads and validates the process configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the SQLite database, creating its directory if needed
func openStore(cfg *config.Config) (*storage.SQLiteStorage, error) {
	path, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// newApp wires storage, the embedding provider and cache, the optional
// Search Console client, the matcher and the job manager.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}

	a.provider, err = embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Matching.EmbeddingDimension,
	})
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	cacheOpts := []embedder.CacheOption{embedder.WithLogger(logger.Named("cache"))}
	if cfg.Embedding.Persistent {
		cacheOpts = append(cacheOpts, embedder.WithStore(a.store))
	}
	a.cache = embedder.NewCache(a.provider, cacheOpts...)

	matcherOpts := []matcher.Option{
		matcher.WithMetrics(a.metrics),
		matcher.WithLogger(logger.Named("matcher")),
	}
	if cfg.SearchConsole.Enabled {
		client, err := searchconsole.New(ctx, cfg.SearchConsole, nil, searchconsole.WithLogger(logger.Named("searchconsole")))
		if err != nil {
			a.close()
			return nil, err
		}
		matcherOpts = append(matcherOpts, matcher.WithFetcher(client))
	}

	a.jobs, err = jobs.NewManager(
		matcher.New(a.cache, matcherOpts...),
		jobs.Config{PoolSize: cfg.PoolSize, RetainedJobs: cfg.RetainedJobs},
		jobs.WithStore(a.store),
		jobs.WithMetrics(a.metrics),
		jobs.WithLogger(logger.Named("jobs")),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	logger.Info("kwmatch initialized",
		zap.String("version", version),
		zap.String("embedding_provider", a.provider.Provider()),
		zap.String("embedding_model", a.provider.Model()),
		zap.Int("pool_size", cfg.PoolSize),
		zap.String("build_mode", storage.BuildMode),
		zap.Bool("cannibalization", cfg.SearchConsole.Enabled))
	return a, nil
}

// close stops the job manager and releases the provider and database
func (a *app) close() {
	if a.jobs != nil {
		_ = a.jobs.Close()
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logger.Sync()
}
