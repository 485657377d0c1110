// Package matcher runs keyword-to-page matching jobs.
//
// A job is one call to Matcher.Run. It builds a private arena (chunks,
// HNSW index, BM25 index) and runs eight steps in order:
//
//  1. load and de-duplicate keywords and pages
//  2. chunk pages into overlapping token windows
//  3. embed chunks through the shared embedding cache (parallel)
//  4. build the vector index
//  5. build the lexical index
//  6. retrieve and score candidates per keyword (parallel)
//  7. derive the adaptive threshold, split assignments and orphans
//  8. flag cannibalization (only with a TopURLFetcher)
//
// # Basic Usage
//
//	m := matcher.New(embedder.NewCache(emb), matcher.WithLogger(logger))
//
//	result, err := m.Run(ctx, jobID, matcher.Input{
//	    Keywords: keywords,
//	    Pages:    pages,
//	}, config.DefaultMatching(), &flag, func(p matcher.Progress) {
//	    fmt.Printf("%s %.0f%%\n", p.Step, p.Fraction*100)
//	})
//
// # Concurrency
//
// Steps 3 and 6 split their input into batch_size slices and process up to
// workers slices at once with an errgroup. The embedding cache is the only
// structure shared between those goroutines; the indices are written by a
// single goroutine and only read afterwards.
//
// # Cancellation
//
// Raising a CancelFlag stops the job at the next batch or step boundary.
// Run then returns an error wrapping types.ErrCancelled and no result.
// Cancelling ctx aborts in-flight provider calls as well.
package matcher
