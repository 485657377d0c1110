package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/kwmatch/pkg/types"
)

const shardCount = 32

// VectorStore is an optional persistent tier behind the in-memory cache.
// Vectors are keyed by content hash and scoped by provider and model.
type VectorStore interface {
	LoadVectors(ctx context.Context, provider, model string, hashes []string) (map[string][]float32, error)
	SaveVectors(ctx context.Context, provider, model string, vectors map[string][]float32) error
}

// CacheStats is a point-in-time view of cache counters
type CacheStats struct {
	Hits          int64
	Misses        int64
	ProviderCalls int64
	Entries       int
}

// Cache maps normalized text to its embedding, computing misses with the
// wrapped provider. It is safe for concurrent use and is the only
// structure shared between the embedding workers of a job.
//
// The first vector stored for a hash is the one every caller sees, even if
// a concurrent miss computed another. Entries are only removed by Clear.
// Returned vectors are shared and must not be modified.
type Cache struct {
	provider Embedder
	store    VectorStore
	logger   *zap.Logger

	shards [shardCount]cacheShard

	hits          atomic.Int64
	misses        atomic.Int64
	providerCalls atomic.Int64
}

type cacheShard struct {
	mu sync.RWMutex
	m  map[string][]float32
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithStore adds a persistent tier
func WithStore(store VectorStore) CacheOption {
	return func(c *Cache) { c.store = store }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache wraps provider with a content-hash cache
func NewCache(provider Embedder, opts ...CacheOption) *Cache {
	c := &Cache{
		provider: provider,
		logger:   zap.NewNop(),
	}
	for i := range c.shards {
		c.shards[i].m = make(map[string][]float32)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the wrapped embedder
func (c *Cache) Provider() Embedder {
	return c.provider
}

func (c *Cache) shard(hash string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hash))
	return &c.shards[h.Sum32()%shardCount]
}

// Get returns the cached vector for a content hash
func (c *Cache) Get(hash string) ([]float32, bool) {
	s := c.shard(hash)
	s.mu.RLock()
	v, ok := s.m[hash]
	s.mu.RUnlock()
	return v, ok
}

// loadOrStore inserts v unless the hash is present and returns the stored
// vector.
func (c *Cache) loadOrStore(hash string, v []float32) []float32 {
	s := c.shard(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[hash]; ok {
		return existing
	}
	s.m[hash] = v
	return v
}

// GetOrCompute returns the embedding of text, calling the provider on a miss
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.GetOrComputeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Lookup counts the hits and misses of a single batch call
type Lookup struct {
	Hits   int64
	Misses int64
}

// GetOrComputeBatch returns embeddings for texts in order. Misses are
// de-duplicated by hash, looked up in the persistent tier, and the rest
// sent to the provider in batches of at most MaxBatchSize. Provider errors
// wrap types.ErrRetrieval.
func (c *Cache) GetOrComputeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, _, err := c.LookupBatch(ctx, texts)
	return vectors, err
}

// LookupBatch is GetOrComputeBatch that also reports the hits and misses of
// this call, for callers that share the cache but account separately.
func (c *Cache) LookupBatch(ctx context.Context, texts []string) ([][]float32, Lookup, error) {
	var lookup Lookup
	result := make([][]float32, len(texts))
	hashes := make([]string, len(texts))

	// hash -> first text with that hash, in first-seen order
	pending := make(map[string]string)
	var order []string

	for i, text := range texts {
		if NormalizeText(text) == "" {
			return nil, lookup, fmt.Errorf("%w: %w: text at index %d", types.ErrRetrieval, ErrEmptyText, i)
		}
		hash := ComputeHash(text)
		hashes[i] = hash

		if v, ok := c.Get(hash); ok {
			result[i] = v
			lookup.Hits++
			continue
		}
		if _, ok := pending[hash]; ok {
			lookup.Hits++
			continue
		}
		pending[hash] = text
		order = append(order, hash)
		lookup.Misses++
	}
	c.hits.Add(lookup.Hits)
	c.misses.Add(lookup.Misses)

	if len(order) > 0 {
		if err := c.fill(ctx, pending, order); err != nil {
			return nil, lookup, err
		}
	}

	for i := range result {
		if result[i] != nil {
			continue
		}
		v, ok := c.Get(hashes[i])
		if !ok {
			return nil, lookup, fmt.Errorf("%w: no embedding for text at index %d", types.ErrRetrieval, i)
		}
		result[i] = v
	}

	return result, lookup, nil
}

// fill resolves pending hashes from the store and then the provider
func (c *Cache) fill(ctx context.Context, pending map[string]string, order []string) error {
	if c.store != nil {
		stored, err := c.store.LoadVectors(ctx, c.provider.Provider(), c.provider.Model(), order)
		if err != nil {
			c.logger.Warn("embedding store lookup failed", zap.Error(err))
		}
		remaining := order[:0:0]
		for _, hash := range order {
			if v, ok := stored[hash]; ok {
				c.loadOrStore(hash, v)
				continue
			}
			remaining = append(remaining, hash)
		}
		order = remaining
	}

	for start := 0; start < len(order); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(order) {
			end = len(order)
		}
		batch := order[start:end]

		texts := make([]string, len(batch))
		for i, hash := range batch {
			texts[i] = pending[hash]
		}

		c.providerCalls.Add(1)
		resp, err := c.provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrRetrieval, err)
		}
		if len(resp.Embeddings) != len(batch) {
			return fmt.Errorf("%w: provider returned %d embeddings for %d texts",
				types.ErrRetrieval, len(resp.Embeddings), len(batch))
		}

		fresh := make(map[string][]float32, len(batch))
		for i, hash := range batch {
			fresh[hash] = c.loadOrStore(hash, resp.Embeddings[i].Vector)
		}

		if c.store != nil {
			if err := c.store.SaveVectors(ctx, c.provider.Provider(), c.provider.Model(), fresh); err != nil {
				c.logger.Warn("embedding store write failed", zap.Int("vectors", len(fresh)), zap.Error(err))
			}
		}
	}

	return nil
}

// Stats returns the current counters
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		ProviderCalls: c.providerCalls.Load(),
		Entries:       c.Len(),
	}
}

// Len returns the number of cached vectors
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Clear drops every in-memory entry and resets the counters. The
// persistent tier is left untouched.
func (c *Cache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.m = make(map[string][]float32)
		s.mu.Unlock()
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.providerCalls.Store(0)
}
