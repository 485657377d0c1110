// Package chunker splits page content into fixed-size, overlapping token
// windows for embedding.
//
// # Windows
//
// Tokens are maximal runs of non-whitespace characters. With window size S
// and overlap O (0 <= O < S) the stride is S-O, and a page of N tokens
// produces
//
//	1                      if 0 < N <= S
//	ceil((N-O) / (S-O))    if N > S
//
// windows. A page shorter than one window yields exactly one chunk, and a
// blank page yields none (the caller counts it as skipped).
//
// # Exact Spans
//
// Each chunk carries the byte offsets of its span in the original content
// and its text is exactly that slice, so the content can be rebuilt from
// its chunks:
//
//	c, _ := chunker.New(512, 128)
//	chunks := c.Chunk(page)
//	chunker.Reconstruct(chunks) == page.Content // always true
//
// Chunking is a pure function of its input and can be restarted at will.
package chunker
