package searcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/kwmatch/internal/lexical"
	"github.com/dshills/kwmatch/internal/vectorindex"
)

// DefaultLimit is the number of hits pulled from each retrieval path
const DefaultLimit = 20

// Request is a single keyword lookup
type Request struct {
	Query  string    // Normalized keyword text, for the lexical path
	Vector []float32 // Keyword embedding, for the vector path
	Limit  int       // Hits per path; pages may be fewer after roll-up
}

// Candidate is a page surfaced by at least one retrieval path
type Candidate struct {
	URL string

	// Best similarity among the page's chunks in the vector top-K; 0 when
	// the page was only surfaced lexically.
	EmbeddingSim float64
	// Raw BM25 of the query against the page, whichever path surfaced it.
	BM25Raw float64

	FromVector bool
	FromText   bool
}

// Response contains the candidate union and metadata
type Response struct {
	Candidates    []Candidate // Sorted by URL
	VectorResults int         // Chunk hits before roll-up
	TextResults   int
	Duration      time.Duration
}

// Searcher retrieves keyword candidates from a job's vector and lexical
// indices. Both indices must be fully built; Searcher only reads them and is
// safe for concurrent use.
type Searcher struct {
	vectors *vectorindex.Index
	text    *lexical.Index
}

// New creates a Searcher over built indices
func New(vectors *vectorindex.Index, text *lexical.Index) *Searcher {
	return &Searcher{vectors: vectors, text: text}
}

// searchResult holds the output of one retrieval path
type searchResult struct {
	vectorHits []vectorindex.Hit
	textHits   []lexical.Hit
	err        error
}

func (s *Searcher) runVectorSearch(ctx context.Context, req Request, resultChan chan<- searchResult) {
	var res searchResult
	res.vectorHits, res.err = s.vectors.Query(req.Vector, req.Limit)
	select {
	case resultChan <- res:
	case <-ctx.Done():
	}
}

func (s *Searcher) runTextSearch(ctx context.Context, req Request, resultChan chan<- searchResult) {
	res := searchResult{textHits: s.text.TopK(req.Query, req.Limit)}
	select {
	case resultChan <- res:
	case <-ctx.Done():
	}
}

// Search runs both retrieval paths concurrently and returns the union of the
// pages they surface. Pages surfaced by neither path are never returned.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	vectorChan := make(chan searchResult, 1)
	textChan := make(chan searchResult, 1)

	go s.runVectorSearch(ctx, req, vectorChan)
	go s.runTextSearch(ctx, req, textChan)

	var vectorRes, textRes searchResult
	var vectorDone, textDone bool
	for !vectorDone || !textDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case textRes = <-textChan:
			textDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if vectorRes.err != nil {
		return nil, fmt.Errorf("vector search: %w", vectorRes.err)
	}

	return &Response{
		Candidates:    s.union(req.Query, vectorRes.vectorHits, textRes.textHits),
		VectorResults: len(vectorRes.vectorHits),
		TextResults:   len(textRes.textHits),
		Duration:      time.Since(start),
	}, nil
}

// union merges both paths by page URL
func (s *Searcher) union(query string, vectorHits []vectorindex.Hit, textHits []lexical.Hit) []Candidate {
	byURL := make(map[string]*Candidate)

	for page, sim := range vectorindex.RollUp(vectorHits) {
		byURL[page] = &Candidate{URL: page, EmbeddingSim: sim, FromVector: true}
	}
	for _, h := range textHits {
		c, ok := byURL[h.URL]
		if !ok {
			c = &Candidate{URL: h.URL}
			byURL[h.URL] = c
		}
		c.BM25Raw = h.Score
		c.FromText = true
	}

	out := make([]Candidate, 0, len(byURL))
	for _, c := range byURL {
		if !c.FromText {
			// Below the lexical cut-off but still a real score
			c.BM25Raw = s.text.Score(query, c.URL)
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (s *Searcher) validateRequest(req *Request) error {
	if req.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(req.Vector) == 0 {
		return fmt.Errorf("query vector cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	return nil
}
