// Package searcher retrieves candidate pages for a keyword.
//
// A keyword is looked up along two paths that run concurrently:
//
//   - Vector: the keyword embedding is queried against the job's HNSW chunk
//     index and chunk hits are rolled up to pages by maximum similarity.
//   - Text: the normalized keyword is scored with BM25 and the best pages
//     are kept.
//
// The candidate set is the union of both paths. A page surfaced by neither
// is never scored against the keyword, which bounds the cost of fusion.
//
// # Basic Usage
//
//	s := searcher.New(vectorIndex, lexicalIndex)
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:  "red shoes",
//	    Vector: keywordVector,
//	    Limit:  20,
//	})
//
//	for _, c := range resp.Candidates {
//	    fmt.Printf("%s emb=%.2f bm25=%.2f\n", c.URL, c.EmbeddingSim, c.BM25Raw)
//	}
//
// Candidates carry raw BM25 scores. Normalization needs the range of every
// score in the job and is left to the caller.
package searcher
