// Package embedder generates vector embeddings for page chunks and keywords.
//
// Three providers implement the Embedder interface: Jina AI and OpenAI over
// their shared /v1/embeddings wire format, and an offline feature-hashing
// provider ("local") that needs no network access.
//
// # Basic Usage
//
//	// Create embedder (auto-detects provider from environment)
//	emb, err := embedder.NewFromEnv(384)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "best red shoes for running",
//	})
//
// # Provider Selection
//
// NewFromEnv checks, in order:
//
//  1. KWMATCH_EMBEDDING_PROVIDER (jina, openai, local)
//  2. JINA_API_KEY
//  3. OPENAI_API_KEY
//  4. the local provider
//
// # Caching
//
// Providers do not cache. Cache wraps any Embedder and keys vectors by the
// SHA-256 of the whitespace-normalized text:
//
//	cache := embedder.NewCache(emb, embedder.WithStore(store))
//	vectors, err := cache.GetOrComputeBatch(ctx, chunkTexts)
//
// The cache is sharded and safe for concurrent use. Misses within one call
// are de-duplicated and sent to the provider in batches of at most
// MaxBatchSize. When two callers miss the same text concurrently both may
// reach the provider, but only the first vector stored is ever returned.
// An optional VectorStore persists vectors across processes.
//
// # Errors
//
// Provider failures wrap ErrProviderFailed. The cache additionally wraps
// them in types.ErrRetrieval so the job pipeline can classify them. No
// call is retried.
package embedder
