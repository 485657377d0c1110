package fusion

import (
	"math"
	"regexp"

	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/lexical"
	"github.com/dshills/kwmatch/pkg/types"
)

// NeutralNumeric is the numeric similarity when neither side has a number
const NeutralNumeric = 0.5

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Clamp limits v to [0, 1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Fuse combines clamped components with weights and clamps the result
func Fuse(c types.Components, w config.Weights) float64 {
	return Clamp(w.Embedding*Clamp(c.EmbeddingSim) +
		w.BM25*Clamp(c.BM25Norm) +
		w.Title*Clamp(c.TitleSim) +
		w.Numeric*Clamp(c.NumericSim))
}

// Numbers returns the distinct numeric tokens in text ("9.5" stays whole)
func Numbers(text string) map[string]struct{} {
	matches := numberPattern.FindAllString(text, -1)
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m] = struct{}{}
	}
	return set
}

// TitleSimilarity is the share of keyword tokens that appear in the title
func TitleSimilarity(keywordTokens []string, title map[string]struct{}) float64 {
	if len(keywordTokens) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(keywordTokens))
	var distinct, shared int
	for _, t := range keywordTokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		distinct++
		if _, ok := title[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(distinct)
}

// NumericSimilarity is 1 when keyword and page share a number, 0.5 when
// neither has one, and 0 otherwise.
func NumericSimilarity(keyword, page map[string]struct{}) float64 {
	if len(keyword) == 0 && len(page) == 0 {
		return NeutralNumeric
	}
	for n := range keyword {
		if _, ok := page[n]; ok {
			return 1
		}
	}
	return 0
}

// PageFeatures are the per-page inputs of title and numeric similarity,
// computed once per job.
type PageFeatures struct {
	TitleTokens map[string]struct{}
	Numbers     map[string]struct{}
}

// NewPageFeatures extracts features from a page's title and content
func NewPageFeatures(p types.Page) PageFeatures {
	return PageFeatures{
		TitleTokens: lexical.TokenSet(p.Title),
		Numbers:     Numbers(p.Title + " " + p.Content),
	}
}

// Query holds the per-keyword inputs of title and numeric similarity
type Query struct {
	Text    string
	Tokens  []string
	Numbers map[string]struct{}
}

// NewQuery prepares a keyword for scoring
func NewQuery(keyword string) Query {
	return Query{
		Text:    keyword,
		Tokens:  lexical.Tokenize(keyword),
		Numbers: Numbers(keyword),
	}
}

// Components returns the components of a keyword-page pair. BM25Norm is
// left at zero; it is filled once the job-wide BM25 range is known.
func (q Query) Components(page PageFeatures, embeddingSim float64) types.Components {
	return types.Components{
		EmbeddingSim: Clamp(embeddingSim),
		TitleSim:     TitleSimilarity(q.Tokens, page.TitleTokens),
		NumericSim:   NumericSimilarity(q.Numbers, page.Numbers),
	}
}
