package lexical

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/kwmatch/pkg/types"
)

const (
	DefaultK1         = 1.2
	DefaultB          = 0.75
	DefaultTitleBoost = 1
)

// Params are the BM25 tuning parameters
type Params struct {
	K1         float64
	B          float64
	TitleBoost int // Times the title is repeated ahead of the content
}

// DefaultParams returns k1=1.2, b=0.75 and a title boost of 1
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB, TitleBoost: DefaultTitleBoost}
}

// Validate checks parameter ranges
func (p Params) Validate() error {
	if p.K1 < 0 {
		return fmt.Errorf("%w: bm25 k1 must be non-negative, got %g", types.ErrValidation, p.K1)
	}
	if p.B < 0 || p.B > 1 {
		return fmt.Errorf("%w: bm25 b must be in [0, 1], got %g", types.ErrValidation, p.B)
	}
	if p.TitleBoost < 0 {
		return fmt.Errorf("%w: title boost must be non-negative, got %d", types.ErrValidation, p.TitleBoost)
	}
	return nil
}

// Hit is a page returned by TopK
type Hit struct {
	URL   string
	Score float64
}

type posting struct {
	doc int32
	tf  int32
}

// Index is an in-memory BM25 inverted index with one document per page.
// It is immutable after Build and safe for concurrent reads.
type Index struct {
	params Params

	urls   []string
	docLen []int
	avgLen float64
	byURL  map[string]int

	postings map[string][]posting
	// per-document term frequencies, for Score
	tf []map[string]int32
}

// Build indexes each page as its title (repeated TitleBoost times) followed
// by its content. Pages are assumed to be de-duplicated by URL; a repeated
// URL keeps its first document.
func Build(pages []types.Page, params Params) (*Index, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ix := &Index{
		params:   params,
		byURL:    make(map[string]int, len(pages)),
		postings: make(map[string][]posting),
	}

	var total int
	for _, p := range pages {
		if _, dup := ix.byURL[p.URL]; dup {
			continue
		}
		doc := len(ix.urls)

		var b strings.Builder
		for i := 0; i < params.TitleBoost; i++ {
			b.WriteString(p.Title)
			b.WriteByte(' ')
		}
		b.WriteString(p.Content)
		tokens := Tokenize(b.String())

		freqs := make(map[string]int32, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		for term, n := range freqs {
			ix.postings[term] = append(ix.postings[term], posting{doc: int32(doc), tf: n})
		}

		ix.urls = append(ix.urls, p.URL)
		ix.docLen = append(ix.docLen, len(tokens))
		ix.tf = append(ix.tf, freqs)
		ix.byURL[p.URL] = doc
		total += len(tokens)
	}

	if n := len(ix.urls); n > 0 {
		ix.avgLen = float64(total) / float64(n)
	}
	return ix, nil
}

// Len returns the number of indexed pages
func (ix *Index) Len() int {
	return len(ix.urls)
}

// IDF returns ln(1 + (N - df + 0.5) / (df + 0.5)) for term
func (ix *Index) IDF(term string) float64 {
	n := float64(len(ix.urls))
	df := float64(len(ix.postings[term]))
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

func (ix *Index) termScore(idf float64, tf int32, doc int) float64 {
	f := float64(tf)
	k1, b := ix.params.K1, ix.params.B
	norm := 1 - b
	if ix.avgLen > 0 {
		norm += b * float64(ix.docLen[doc]) / ix.avgLen
	}
	return idf * f * (k1 + 1) / (f + k1*norm)
}

type queryTerm struct {
	term  string
	count int
}

// queryTerms returns the distinct terms of query with their counts, sorted
// so score accumulation order is fixed.
func queryTerms(query string) []queryTerm {
	counts := make(map[string]int)
	for _, t := range Tokenize(query) {
		counts[t]++
	}
	terms := make([]queryTerm, 0, len(counts))
	for t, n := range counts {
		terms = append(terms, queryTerm{t, n})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].term < terms[j].term })
	return terms
}

// Score returns the BM25 score of query against one page, or 0 when the URL
// is not indexed.
func (ix *Index) Score(query, url string) float64 {
	doc, ok := ix.byURL[url]
	if !ok {
		return 0
	}
	var score float64
	for _, q := range queryTerms(query) {
		tf, ok := ix.tf[doc][q.term]
		if !ok {
			continue
		}
		score += float64(q.count) * ix.termScore(ix.IDF(q.term), tf, doc)
	}
	return score
}

// TopK returns up to k pages with a positive score for query, best first,
// ties broken by URL.
func (ix *Index) TopK(query string, k int) []Hit {
	if k <= 0 {
		return nil
	}

	acc := make(map[int]float64)
	for _, q := range queryTerms(query) {
		list := ix.postings[q.term]
		if len(list) == 0 {
			continue
		}
		idf := ix.IDF(q.term)
		for _, p := range list {
			acc[int(p.doc)] += float64(q.count) * ix.termScore(idf, p.tf, int(p.doc))
		}
	}

	hits := make([]Hit, 0, len(acc))
	for doc, s := range acc {
		if s > 0 {
			hits = append(hits, Hit{URL: ix.urls[doc], Score: s})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].URL < hits[j].URL
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
