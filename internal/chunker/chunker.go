package chunker

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/kwmatch/pkg/types"
)

const (
	// DefaultChunkSize is the default window size in tokens
	DefaultChunkSize = 512

	// DefaultOverlap is the default number of tokens shared by consecutive windows
	DefaultOverlap = 128
)

// Chunker splits page content into fixed-size overlapping token windows.
// A token is a maximal run of non-whitespace characters.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. overlap must be in [0, size).
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrValidation, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", types.ErrValidation, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size in tokens
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in tokens
func (c *Chunker) Overlap() int { return c.overlap }

// ExpectedChunks returns the number of windows produced for n tokens.
func (c *Chunker) ExpectedChunks(n int) int {
	switch {
	case n <= 0:
		return 0
	case n <= c.size:
		return 1
	}
	stride := c.size - c.overlap
	return (n - c.overlap + stride - 1) / stride
}

// Chunk splits a page into windows. Blank content yields no chunks.
//
// Chunk text is an exact byte span of the content. The first chunk starts
// at byte 0 and the last ends at len(content); every other chunk ends where
// the first token after its window begins, so trailing whitespace belongs to
// the chunk it follows and Reconstruct gives back the content unchanged.
func (c *Chunker) Chunk(page types.Page) []types.Chunk {
	spans := tokenize(page.Content)
	n := len(spans)
	if n == 0 {
		return nil
	}

	stride := c.size - c.overlap
	chunks := make([]types.Chunk, 0, c.ExpectedChunks(n))

	for first := 0; ; first += stride {
		last := first + c.size
		if last > n {
			last = n
		}

		start := spans[first].start
		if first == 0 {
			start = 0
		}
		end := len(page.Content)
		if last < n {
			end = spans[last].start
		}

		chunk := types.Chunk{
			PageURL:    page.URL,
			Index:      len(chunks),
			Text:       page.Content[start:end],
			TokenCount: last - first,
			StartByte:  start,
			EndByte:    end,
		}
		chunk.ComputeHash()
		chunks = append(chunks, chunk)

		if last == n {
			break
		}
	}

	return chunks
}

// ChunkAll chunks every page in order. Pages that produce no chunk are
// counted as skipped.
func (c *Chunker) ChunkAll(pages []types.Page) (chunks []types.Chunk, skipped int) {
	for _, p := range pages {
		pc := c.Chunk(p)
		if len(pc) == 0 {
			skipped++
			continue
		}
		chunks = append(chunks, pc...)
	}
	return chunks, skipped
}

// Reconstruct rebuilds page content from its chunks in index order.
func Reconstruct(chunks []types.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}

	buf := make([]byte, 0, chunks[len(chunks)-1].EndByte)
	buf = append(buf, chunks[0].Text...)
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].EndByte
		cur := chunks[i]
		buf = append(buf, cur.Text[prevEnd-cur.StartByte:]...)
	}
	return string(buf)
}

type span struct {
	start, end int
}

// tokenize returns byte spans of whitespace-separated tokens.
func tokenize(s string) []span {
	var spans []span
	inToken := false
	start := 0

	for i := 0; i < len(s); {
		r, width := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			if inToken {
				spans = append(spans, span{start, i})
				inToken = false
			}
		} else if !inToken {
			start = i
			inToken = true
		}
		i += width
	}
	if inToken {
		spans = append(spans, span{start, len(s)})
	}

	return spans
}

// CountTokens returns the number of whitespace-separated tokens in s.
func CountTokens(s string) int {
	return len(tokenize(s))
}
