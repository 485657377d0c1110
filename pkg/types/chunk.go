package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// Chunk is a contiguous window of a page's tokens, the unit of embedding
// and vector retrieval.
type Chunk struct {
	// Identification
	PageURL string // Back-reference to the owning page by key
	Index   int    // Position within the page, 0-based

	// Content
	Text        string
	ContentHash [32]byte // SHA-256 of Text
	TokenCount  int

	// Location (byte offsets into Page.Content)
	StartByte int
	EndByte   int

	// Filled by the embedding step
	Embedding []float32
}

// Ref returns a stable human-readable reference for logs and errors.
func (c *Chunk) Ref() string {
	return fmt.Sprintf("%s#%d", c.PageURL, c.Index)
}

// ComputeHash computes the SHA-256 hash of the chunk text
func (c *Chunk) ComputeHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.PageURL == "" {
		return errors.New("chunk page URL is required")
	}
	if c.Index < 0 {
		return errors.New("chunk index must be non-negative")
	}
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.EndByte < c.StartByte {
		return errors.New("end byte must be >= start byte")
	}
	return nil
}
