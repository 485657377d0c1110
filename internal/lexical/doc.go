// Package lexical provides the shared tokenizer and an in-memory BM25 index
// over page titles and content.
//
// Scores use the standard Okapi BM25 formula with the non-negative IDF
// ln(1 + (N - df + 0.5)/(df + 0.5)). Raw scores are unbounded; callers
// normalize them per job.
package lexical
