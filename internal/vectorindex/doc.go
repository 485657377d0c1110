// Package vectorindex implements approximate nearest-neighbour search over
// chunk embeddings with a Hierarchical Navigable Small World graph.
//
// Vectors are L2-normalized on insert and compared by cosine distance
// (1 - dot product). Layer 0 keeps up to 2*M neighbours per node, upper
// layers M. Node levels come from a seeded source, so the same chunks
// inserted in the same order with the same Seed always produce the same
// graph and the same query results.
//
//	ix, err := vectorindex.New(vectorindex.Config{Dimension: 384, M: 32, EfConstruction: 200, EfSearch: 200})
//	if err := ix.Build(ctx, chunks); err != nil {
//	    // *types.DimensionMismatchError names the offending chunk
//	}
//	hits, err := ix.Query(keywordVector, 20)
//	pageScores := vectorindex.RollUp(hits)
package vectorindex
