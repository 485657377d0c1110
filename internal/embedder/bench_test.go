package embedder

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"medium length text for hashing",
		"this is a longer text that represents a typical page chunk that might be embedded for keyword matching against a corpus",
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(text)
			}
		})
	}
}

func BenchmarkCache(b *testing.B) {
	cache := NewCache(NewLocalProvider(LocalDimension))
	ctx := context.Background()

	texts := make([]string, 1000)
	for i := range texts {
		texts[i] = fmt.Sprintf("keyword number %d", i)
	}
	if _, err := cache.GetOrComputeBatch(ctx, texts); err != nil {
		b.Fatal(err)
	}

	b.Run("hit", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = cache.GetOrCompute(ctx, texts[i%len(texts)])
		}
	})

	b.Run("hit_parallel", func(b *testing.B) {
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				_, _ = cache.GetOrCompute(ctx, texts[i%len(texts)])
				i++
			}
		})
	})
}

func BenchmarkLocalProvider(b *testing.B) {
	p := NewLocalProvider(LocalDimension)
	ctx := context.Background()
	req := EmbeddingRequest{Text: "best red running shoes for trail and road with 12 colour options"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.GenerateEmbedding(ctx, req)
	}
}
