package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/lexical"
	"github.com/dshills/kwmatch/pkg/types"
)

func set(items ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, i := range items {
		s[i] = struct{}{}
	}
	return s
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp(tt.in), "Clamp(%v)", tt.in)
	}
}

func TestFuse(t *testing.T) {
	w := config.DefaultMatching().Weights

	tests := []struct {
		name string
		c    types.Components
		want float64
	}{
		{"all zero", types.Components{}, 0},
		{"all one", types.Components{EmbeddingSim: 1, BM25Norm: 1, TitleSim: 1, NumericSim: 1}, 1},
		{"weighted", types.Components{EmbeddingSim: 0.8, BM25Norm: 0.5, TitleSim: 1, NumericSim: 0.5},
			0.55*0.8 + 0.25*0.5 + 0.10*1 + 0.10*0.5},
		{"negative embedding clamped", types.Components{EmbeddingSim: -0.4, TitleSim: 1}, 0.10},
		{"overflow clamped", types.Components{EmbeddingSim: 3, BM25Norm: 1, TitleSim: 1, NumericSim: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.c, w)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestFuse_BoundsAcrossWeights(t *testing.T) {
	weights := []struct {
		name string
		w    config.Weights
	}{
		{"default", config.DefaultMatching().Weights},
		{"embedding only", config.Weights{Embedding: 1}},
		{"bm25 only", config.Weights{BM25: 1}},
		{"title only", config.Weights{Title: 1}},
		{"numeric only", config.Weights{Numeric: 1}},
		{"even split", config.Weights{Embedding: 0.25, BM25: 0.25, Title: 0.25, Numeric: 0.25}},
		{"uneven", config.Weights{Embedding: 0.1, BM25: 0.2, Title: 0.3, Numeric: 0.4}},
	}
	components := []types.Components{
		{},
		{EmbeddingSim: 1, BM25Norm: 1, TitleSim: 1, NumericSim: 1},
		{EmbeddingSim: 1},
		{BM25Norm: 1, NumericSim: 1},
		{EmbeddingSim: -1, BM25Norm: 2, TitleSim: math.NaN(), NumericSim: 0.5},
	}

	for _, tt := range weights {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, Fuse(types.Components{}, tt.w))
			assert.InDelta(t, 1.0, Fuse(components[1], tt.w), 1e-12)
			for _, c := range components {
				got := Fuse(c, tt.w)
				assert.GreaterOrEqual(t, got, 0.0, "%+v", c)
				assert.LessOrEqual(t, got, 1.0, "%+v", c)
			}
		})
	}
}

func TestNumbers(t *testing.T) {
	assert.Equal(t, set("2024", "9.5"), Numbers("best shoes 2024 size 9.5"))
	assert.Empty(t, Numbers("no digits here"))
	assert.Equal(t, set("3"), Numbers("3 and 3 again"))
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		title   string
		want    float64
	}{
		{"full overlap", "red shoes", "Red Shoes for Sale", 1},
		{"half overlap", "red shoes", "Blue Shoes", 0.5},
		{"none", "red shoes", "Hats", 0},
		{"empty keyword", "", "Hats", 0},
		{"repeated keyword token", "shoes shoes red", "Shoes", 0.5},
		{"title superset", "shoes", "shoes socks hats gloves", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleSimilarity(lexical.Tokenize(tt.keyword), lexical.TokenSet(tt.title))
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestNumericSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		keyword map[string]struct{}
		page    map[string]struct{}
		want    float64
	}{
		{"shared", set("2024"), set("2023", "2024"), 1},
		{"disjoint", set("2024"), set("2023"), 0},
		{"keyword only", set("10"), set(), 0},
		{"page only", set(), set("10"), 0},
		{"neither", set(), set(), NeutralNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NumericSimilarity(tt.keyword, tt.page))
		})
	}
}

func TestQueryComponents(t *testing.T) {
	page := NewPageFeatures(types.Page{URL: "/s", Title: "Running Shoes 2024", Content: "lightweight"})
	q := NewQuery("running shoes 2024")

	c := q.Components(page, 1.3)
	assert.Equal(t, 1.0, c.EmbeddingSim)
	assert.Zero(t, c.BM25Norm)
	assert.Equal(t, 1.0, c.TitleSim)
	assert.Equal(t, 1.0, c.NumericSim)

	other := NewPageFeatures(types.Page{URL: "/h", Title: "Hats", Content: "warm hats"})
	c = q.Components(other, -0.2)
	assert.Zero(t, c.EmbeddingSim)
	assert.Zero(t, c.TitleSim)
	assert.Zero(t, c.NumericSim)
}
