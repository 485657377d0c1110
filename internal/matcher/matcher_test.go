package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/kwmatch/internal/cannibalization"
	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/embedder"
	"github.com/dshills/kwmatch/internal/embedder/embeddertest"
	"github.com/dshills/kwmatch/internal/metrics"
	"github.com/dshills/kwmatch/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDimension = 384

func vol(v float64) *float64 { return &v }

func testConfig() config.Matching {
	cfg := config.DefaultMatching()
	cfg.EmbeddingDimension = testDimension
	cfg.Workers = 2
	cfg.BatchSize = 2
	cfg.ProgressInterval = "1ns"
	return cfg
}

func newTestMatcher(mock *embeddertest.MockEmbedder, opts ...Option) *Matcher {
	return New(embedder.NewCache(mock), opts...)
}

type fakeFetcher struct {
	urls map[string][]cannibalization.TopURL
}

func (f *fakeFetcher) FetchTopURLs(ctx context.Context, keyword string, windowDays int) ([]cannibalization.TopURL, error) {
	urls, ok := f.urls[keyword]
	if !ok {
		return nil, errors.New("no data")
	}
	return urls, nil
}

func TestRun_RedShoes(t *testing.T) {
	m := newTestMatcher(embeddertest.New(testDimension))

	in := Input{
		Keywords: []types.Keyword{
			{Text: "red shoes", Volume: vol(100)},
			{Text: "xyz999nonsense", Volume: vol(5)},
		},
		Pages: []types.Page{
			{URL: "/shoes", Title: "Red Running Shoes", Content: "best red shoes for running"},
		},
	}

	result, err := m.Run(context.Background(), "job-1", in, testConfig(), nil, nil)
	require.NoError(t, err)

	require.Len(t, result.Assignments, 1)
	a := result.Assignments[0]
	assert.Equal(t, "red shoes", a.Keyword)
	assert.Equal(t, "/shoes", a.URL)
	assert.Equal(t, 1, a.Rank)
	assert.Equal(t, 100.0, *a.Volume)
	assert.Greater(t, a.Components.EmbeddingSim, 0.5)
	assert.Greater(t, a.Components.BM25Norm, 0.5)
	assert.Equal(t, 1.0, a.Components.TitleSim)
	assert.Equal(t, 0.5, a.Components.NumericSim)
	assert.NoError(t, a.Validate())

	require.Len(t, result.Orphans, 1)
	o := result.Orphans[0]
	assert.Equal(t, "xyz999nonsense", o.Keyword)
	assert.Equal(t, "/shoes", o.BestURL)
	assert.Less(t, o.BestScoreSeen, result.Threshold.Effective)

	assert.InDelta(t, config.DefaultMinScoreThreshold, result.Threshold.Effective, 1e-9)
	assert.GreaterOrEqual(t, result.Threshold.Effective, result.Threshold.Floor)

	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, 2, result.Stats.TotalKeywords)
	assert.Equal(t, 1, result.Stats.TotalPages)
	assert.Equal(t, 1, result.Stats.Chunks)
	assert.Equal(t, 1, result.Stats.Assigned)
	assert.Equal(t, 1, result.Stats.Orphans)
	assert.InDelta(t, a.FusedScore, result.Stats.AverageScore, 1e-12)
	assert.NotNil(t, result.CannibalizationFlags)
	assert.Empty(t, result.CannibalizationFlags)
}

func TestRun_Partition(t *testing.T) {
	topics := []string{"shoes", "hats", "socks", "boots", "jackets", "gloves"}
	var pages []types.Page
	for i, topic := range topics {
		pages = append(pages, types.Page{
			URL:     "/" + topic,
			Title:   "Buy " + topic,
			Content: fmt.Sprintf("our %s collection for %d with red blue and green %s", topic, 2020+i, topic),
		})
	}

	var keywords []types.Keyword
	for _, topic := range topics {
		for _, mod := range []string{"red", "cheap", "2021", "best"} {
			keywords = append(keywords, types.Keyword{Text: mod + " " + topic})
		}
	}
	keywords = append(keywords, types.Keyword{Text: "RED SHOES"}, types.Keyword{Text: "quantum chromodynamics"})

	cfg := testConfig()
	cfg.TopSuggestions = 2
	result, err := newTestMatcher(embeddertest.New(testDimension)).Run(context.Background(), "job", Input{Keywords: keywords, Pages: pages}, cfg, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, len(topics)*4+1, result.Stats.TotalKeywords)
	assert.Equal(t, 1, result.Stats.DuplicateKeywords)
	assert.Equal(t, result.Stats.TotalKeywords, len(result.Assignments)+len(result.Orphans))

	seen := make(map[string]int)
	for _, a := range result.Assignments {
		seen[a.Keyword]++
		assert.NoError(t, a.Validate())
		assert.GreaterOrEqual(t, a.FusedScore, result.Threshold.Effective)
		assert.LessOrEqual(t, len(a.Alternates), cfg.TopSuggestions)
		for i, alt := range a.Alternates {
			assert.Equal(t, i+2, alt.Rank)
			assert.NotEqual(t, a.URL, alt.URL)
			assert.LessOrEqual(t, alt.FusedScore, a.FusedScore)
		}
	}
	for _, o := range result.Orphans {
		seen[o.Keyword]++
		assert.GreaterOrEqual(t, o.BestScoreSeen, 0.0)
		assert.Less(t, o.BestScoreSeen, result.Threshold.Effective)
	}
	for kw, n := range seen {
		assert.Equal(t, 1, n, kw)
	}
	assert.Len(t, seen, result.Stats.TotalKeywords)
	assert.GreaterOrEqual(t, result.Threshold.Effective, cfg.MinScoreThreshold)
}

func TestRun_Validation(t *testing.T) {
	page := types.Page{URL: "/a", Title: "A", Content: "alpha"}
	kw := types.Keyword{Text: "alpha"}

	badWeights := testConfig()
	badWeights.Weights.Embedding = 0.9

	tests := []struct {
		name string
		in   Input
		cfg  config.Matching
	}{
		{"no keywords", Input{Pages: []types.Page{page}}, testConfig()},
		{"no pages", Input{Keywords: []types.Keyword{kw}}, testConfig()},
		{"weights", Input{Keywords: []types.Keyword{kw}, Pages: []types.Page{page}}, badWeights},
		{"only blank keywords", Input{Keywords: []types.Keyword{{Text: "  "}}, Pages: []types.Page{page}}, testConfig()},
		{"only blank pages", Input{Keywords: []types.Keyword{kw}, Pages: []types.Page{{URL: "/b", Content: " "}}}, testConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := embeddertest.New(testDimension)
			_, err := newTestMatcher(mock).Run(context.Background(), "job", tt.in, tt.cfg, nil, nil)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.Zero(t, mock.Calls())
		})
	}
}

func TestRun_RetrievalError(t *testing.T) {
	mock := embeddertest.New(testDimension)
	mock.Hook = func(ctx context.Context, texts []string) error {
		return errors.New("provider unavailable")
	}

	in := Input{
		Keywords: []types.Keyword{{Text: "alpha"}},
		Pages:    []types.Page{{URL: "/a", Title: "A", Content: "alpha"}},
	}
	_, err := newTestMatcher(mock).Run(context.Background(), "job", in, testConfig(), nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRetrieval)
	assert.Contains(t, err.Error(), types.StepEmbed.String())
}

func TestRun_DimensionMismatch(t *testing.T) {
	in := Input{
		Keywords: []types.Keyword{{Text: "alpha"}},
		Pages:    []types.Page{{URL: "/a", Title: "A", Content: "alpha"}},
	}
	_, err := newTestMatcher(embeddertest.New(16)).Run(context.Background(), "job", in, testConfig(), nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIndexBuild)

	var dm *types.DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, testDimension, dm.Expected)
	assert.Equal(t, 16, dm.Actual)
	assert.Equal(t, "/a#0", dm.ChunkRef)
}

func TestRun_CancelDuringScoring(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	mock := embeddertest.New(testDimension)
	mock.Hook = func(ctx context.Context, texts []string) error {
		if strings.HasPrefix(texts[0], "kw") {
			once.Do(func() { close(started) })
			<-release
		}
		return nil
	}

	var keywords []types.Keyword
	for i := 0; i < 6; i++ {
		keywords = append(keywords, types.Keyword{Text: fmt.Sprintf("kw%d", i)})
	}
	in := Input{
		Keywords: keywords,
		Pages:    []types.Page{{URL: "/a", Title: "A", Content: "alpha beta gamma"}},
	}

	cfg := testConfig()
	cfg.Workers = 1
	cfg.BatchSize = 1

	var mu sync.Mutex
	var steps []types.Step
	progress := func(p Progress) {
		mu.Lock()
		steps = append(steps, p.Step)
		mu.Unlock()
	}

	var flag CancelFlag
	type outcome struct {
		result *types.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := newTestMatcher(mock).Run(context.Background(), "job", in, cfg, &flag, progress)
		done <- outcome{r, err}
	}()

	<-started
	flag.Cancel()
	close(release)
	out := <-done

	assert.Nil(t, out.result)
	assert.ErrorIs(t, out.err, types.ErrCancelled)

	var keywordTexts int
	for _, text := range mock.Seen() {
		if strings.HasPrefix(text, "kw") {
			keywordTexts++
		}
	}
	assert.Equal(t, 1, keywordTexts, "no batch starts after the flag is raised")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.StepScore, steps[len(steps)-1])
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	mock := embeddertest.New(testDimension)
	var flag CancelFlag
	flag.Cancel()

	in := Input{
		Keywords: []types.Keyword{{Text: "alpha"}},
		Pages:    []types.Page{{URL: "/a", Title: "A", Content: "alpha"}},
	}
	_, err := newTestMatcher(mock).Run(context.Background(), "job", in, testConfig(), &flag, nil)

	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Zero(t, mock.Calls())
}

func TestRun_Progress(t *testing.T) {
	var reports []Progress
	in := Input{
		Keywords: []types.Keyword{{Text: "alpha"}, {Text: "beta"}, {Text: "gamma"}},
		Pages: []types.Page{
			{URL: "/a", Title: "A", Content: "alpha"},
			{URL: "/b", Title: "B", Content: "beta"},
		},
	}

	_, err := newTestMatcher(embeddertest.New(testDimension)).Run(context.Background(), "job", in, testConfig(), nil,
		func(p Progress) { reports = append(reports, p) })
	require.NoError(t, err)
	require.NotEmpty(t, reports)

	var order []types.Step
	for i, p := range reports {
		if i > 0 {
			assert.GreaterOrEqual(t, p.Fraction, reports[i-1].Fraction)
		}
		if len(order) == 0 || order[len(order)-1] != p.Step {
			order = append(order, p.Step)
		}
		assert.NotZero(t, p.MemoryEstimate)
	}

	assert.Equal(t, []types.Step{
		types.StepLoad, types.StepChunk, types.StepEmbed, types.StepVectorIndex,
		types.StepLexicalIndex, types.StepScore, types.StepFinalize,
	}, order, "cannibalization is skipped without a fetcher")
	assert.InDelta(t, 0.99, reports[len(reports)-1].Fraction, 1e-9)
}

func TestRun_Cannibalization(t *testing.T) {
	const (
		original = "https://example.com/shoes"
		copyURL  = "https://example.com/shoes-copy"
	)
	fetcher := &fakeFetcher{urls: map[string][]cannibalization.TopURL{
		"red shoes": {
			{URL: "https://example.com/shoes", Clicks: 20, Position: 4},
			{URL: "http://Example.com/shoes-copy/?utm_source=mail", Clicks: 150, CTR: 0.12, Position: 1.5},
		},
		"running shoes": {
			{URL: "https://elsewhere.example.org/running", Clicks: 80, Position: 2},
		},
	}}

	in := Input{
		Keywords: []types.Keyword{{Text: "red shoes"}, {Text: "running shoes"}, {Text: "shoes"}},
		Pages: []types.Page{
			{URL: original, Title: "Red Running Shoes", Content: "best red shoes for running"},
			{URL: copyURL, Title: "Running Shoes Archive", Content: "best red shoes for running today"},
		},
	}

	result, err := newTestMatcher(embeddertest.New(testDimension), WithFetcher(fetcher)).
		Run(context.Background(), "job", in, testConfig(), nil, nil)
	require.NoError(t, err)

	byKeyword := make(map[string]types.Assignment)
	for _, a := range result.Assignments {
		byKeyword[a.Keyword] = a
	}
	red, ok := byKeyword["red shoes"]
	require.True(t, ok, "red shoes is assigned")
	assert.Equal(t, original, red.URL)
	require.NotEmpty(t, red.Alternates)
	assert.Equal(t, copyURL, red.Alternates[0].URL, "the near duplicate is a candidate too")

	flags := make(map[string]types.CannibalizationFlag)
	for _, f := range result.CannibalizationFlags {
		flags[f.Keyword] = f
	}

	f, ok := flags["red shoes"]
	require.True(t, ok)
	assert.Equal(t, original, f.AssignedURL)
	assert.Equal(t, 150.0, f.TopClicks)
	assert.True(t, f.Scored)
	require.NotNil(t, f.TopURLScore)
	require.NotNil(t, f.ScoreGap)
	assert.InDelta(t, red.Alternates[0].FusedScore, *f.TopURLScore, 1e-6)
	assert.InDelta(t, red.FusedScore-*f.TopURLScore, *f.ScoreGap, 1e-12)
	assert.Greater(t, *f.ScoreGap, 0.0)
	assert.Empty(t, f.Reason)
	assert.InDelta(t, cannibalization.ConfidenceLoss(red.FusedScore, 150, 1.5), f.ConfidenceLoss, 1e-12)

	if _, assigned := byKeyword["running shoes"]; assigned {
		g, ok := flags["running shoes"]
		require.True(t, ok)
		assert.False(t, g.Scored)
		assert.Nil(t, g.ScoreGap)
		assert.Equal(t, cannibalization.ReasonNotInCorpus, g.Reason)
	}

	_, flagged := flags["shoes"]
	assert.False(t, flagged)
	assert.Equal(t, len(result.CannibalizationFlags), result.Stats.CannibalizationFlags)

	// flags are advisory
	assert.Equal(t, original, byKeyword["red shoes"].URL)
}

// blockingFetcher blocks its first call until release is closed
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	calls int
}

func (f *blockingFetcher) FetchTopURLs(ctx context.Context, keyword string, windowDays int) ([]cannibalization.TopURL, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.once.Do(func() {
		close(f.started)
		<-f.release
	})
	return nil, nil
}

func TestRun_CancelDuringCannibalization(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}

	in := Input{
		Keywords: []types.Keyword{{Text: "red shoes"}, {Text: "blue shoes"}, {Text: "green shoes"}},
		Pages: []types.Page{
			{URL: "/red", Title: "Red Shoes", Content: "red shoes for sale"},
			{URL: "/blue", Title: "Blue Shoes", Content: "blue shoes for sale"},
			{URL: "/green", Title: "Green Shoes", Content: "green shoes for sale"},
		},
	}
	cfg := testConfig()
	cfg.MinScoreThreshold = 0

	var flag CancelFlag
	type outcome struct {
		result *types.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := newTestMatcher(embeddertest.New(testDimension), WithFetcher(fetcher)).
			Run(context.Background(), "job", in, cfg, &flag, nil)
		done <- outcome{r, err}
	}()

	<-fetcher.started
	flag.Cancel()
	close(fetcher.release)
	out := <-done

	assert.Nil(t, out.result)
	assert.ErrorIs(t, out.err, types.ErrCancelled)
	assert.Contains(t, out.err.Error(), types.StepCannibalization.String())

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, 1, fetcher.calls, "no fetch starts after the flag is raised")
}

func TestRun_CacheSharedAcrossJobs(t *testing.T) {
	mock := embeddertest.New(testDimension)
	m := New(embedder.NewCache(mock), WithMetrics(metrics.New()))

	in := Input{
		Keywords: []types.Keyword{{Text: "alpha one"}, {Text: "beta two"}},
		Pages: []types.Page{
			{URL: "/a", Title: "A", Content: "alpha"},
			{URL: "/b", Title: "B", Content: "beta"},
		},
	}

	first, err := m.Run(context.Background(), "one", in, testConfig(), nil, nil)
	require.NoError(t, err)
	calls := mock.Calls()

	second, err := m.Run(context.Background(), "two", in, testConfig(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, calls, mock.Calls(), "second job is served from the cache")
	assert.Equal(t, int64(4), first.Stats.EmbeddingCacheMisses)
	assert.Equal(t, int64(0), second.Stats.EmbeddingCacheMisses)
	assert.Equal(t, int64(4), second.Stats.EmbeddingCacheHits)
	assert.Equal(t, first.Assignments, second.Assignments)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := Input{
		Keywords: []types.Keyword{{Text: "alpha"}},
		Pages:    []types.Page{{URL: "/a", Title: "A", Content: "alpha"}},
	}
	_, err := newTestMatcher(embeddertest.New(testDimension)).Run(ctx, "job", in, testConfig(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
