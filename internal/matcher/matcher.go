package matcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/kwmatch/internal/cannibalization"
	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/embedder"
	"github.com/dshills/kwmatch/internal/fusion"
	"github.com/dshills/kwmatch/internal/lexical"
	"github.com/dshills/kwmatch/internal/metrics"
	"github.com/dshills/kwmatch/internal/searcher"
	"github.com/dshills/kwmatch/internal/vectorindex"
	"github.com/dshills/kwmatch/pkg/types"
)

// Input is the raw input of a job, before de-duplication
type Input struct {
	Keywords []types.Keyword `json:"keywords"`
	Pages    []types.Page    `json:"pages"`
}

// Matcher runs matching jobs. It holds only collaborators shared between
// jobs; every Run builds its own chunks and indices.
type Matcher struct {
	cache   *embedder.Cache
	fetcher cannibalization.TopURLFetcher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Matcher
type Option func(*Matcher)

// WithFetcher enables the cannibalization step
func WithFetcher(f cannibalization.TopURLFetcher) Option {
	return func(m *Matcher) { m.fetcher = f }
}

// WithMetrics records pipeline metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// New creates a Matcher embedding through cache
func New(cache *embedder.Cache, opts ...Option) *Matcher {
	m := &Matcher{
		cache:  cache,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks a submission. Every error wraps types.ErrValidation.
func Validate(in Input, cfg config.Matching) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch {
	case len(in.Keywords) == 0:
		return fmt.Errorf("%w: no keywords", types.ErrValidation)
	case len(in.Pages) == 0:
		return fmt.Errorf("%w: no pages", types.ErrValidation)
	case len(in.Keywords) > config.MaxKeywords:
		return fmt.Errorf("%w: %d keywords exceeds the limit of %d", types.ErrValidation, len(in.Keywords), config.MaxKeywords)
	case len(in.Pages) > config.MaxPages:
		return fmt.Errorf("%w: %d pages exceeds the limit of %d", types.ErrValidation, len(in.Pages), config.MaxPages)
	}
	return nil
}

// CannibalizationEnabled reports whether step 8 runs for cfg
func (m *Matcher) CannibalizationEnabled(cfg config.Matching) bool {
	return cfg.Cannibalization && m.fetcher != nil
}

// Run executes the pipeline and returns the job result. It returns an error
// wrapping types.ErrCancelled when cancel is raised, and never a partial
// result. cancel and progress may be nil.
func (m *Matcher) Run(ctx context.Context, jobID string, in Input, cfg config.Matching, cancel *CancelFlag, progress ProgressFunc) (*types.Result, error) {
	if err := Validate(in, cfg); err != nil {
		return nil, err
	}
	if cancel == nil {
		cancel = &CancelFlag{}
	}

	r := &run{
		m:        m,
		jobID:    jobID,
		in:       in,
		cfg:      cfg,
		cancel:   cancel,
		progress: newTracker(progress, cfg.GetProgressInterval(), m.now),
		logger:   m.logger.With(zap.String("job_id", jobID)),
		started:  m.now(),
	}

	steps := []struct {
		step types.Step
		fn   func(context.Context) error
	}{
		{types.StepLoad, r.load},
		{types.StepChunk, r.chunk},
		{types.StepEmbed, r.embed},
		{types.StepVectorIndex, r.buildVectorIndex},
		{types.StepLexicalIndex, r.buildLexicalIndex},
		{types.StepScore, r.score},
		{types.StepFinalize, r.finalize},
		{types.StepCannibalization, r.detectCannibalization},
	}

	for _, s := range steps {
		if s.step == types.StepCannibalization && !m.CannibalizationEnabled(cfg) {
			continue
		}
		if err := r.checkCancelled(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.progress.begin(s.step)
		stepStart := m.now()
		if err := s.fn(ctx); err != nil {
			r.logger.Debug("step failed", zap.String("step", s.step.String()), zap.Error(err))
			return nil, fmt.Errorf("%s: %w", s.step, err)
		}
		r.logger.Debug("step finished",
			zap.String("step", s.step.String()),
			zap.Duration("duration", m.now().Sub(stepStart)))
	}

	// A cancel raised during the last step still wins over the result
	if err := r.checkCancelled(); err != nil {
		return nil, err
	}
	return r.result(), nil
}

// run is the per-job arena. It owns the job's chunks and indices; nothing
// in it outlives the job or is shared with another job.
type run struct {
	m        *Matcher
	jobID    string
	in       Input
	cfg      config.Matching
	cancel   *CancelFlag
	progress *tracker
	logger   *zap.Logger
	started  time.Time

	keywords     []types.Keyword
	keywordIndex map[string]int
	pages        []types.Page
	pageIndex    map[string]int // URL -> page
	pageByNorm   map[string]int // normalized URL -> page
	features     []fusion.PageFeatures

	chunks     []types.Chunk
	pageChunks [][]int // page -> chunk indices

	vectors *vectorindex.Index
	text    *lexical.Index
	search  *searcher.Searcher

	mu          sync.Mutex
	bm25        fusion.Normalizer
	keywordVecs [][]float32
	candidates  [][]types.CandidateScore
	hits        int64
	misses      int64

	assignments []types.Assignment
	orphans     []types.Orphan
	flags       []types.CannibalizationFlag
	threshold   types.ThresholdInfo
	stats       types.SummaryStats
}

func (r *run) checkCancelled() error {
	if r.cancel.Cancelled() {
		return fmt.Errorf("%w: %s", types.ErrCancelled, r.jobID)
	}
	return nil
}

func (r *run) countLookup(l embedder.Lookup) {
	r.mu.Lock()
	r.hits += l.Hits
	r.misses += l.Misses
	r.mu.Unlock()
}

func (r *run) result() *types.Result {
	r.stats.EmbeddingCacheHits = r.hits
	r.stats.EmbeddingCacheMisses = r.misses
	r.stats.Assigned = len(r.assignments)
	r.stats.Orphans = len(r.orphans)
	r.stats.CannibalizationFlags = len(r.flags)
	if len(r.assignments) > 0 {
		var sum float64
		for _, a := range r.assignments {
			sum += a.FusedScore
		}
		r.stats.AverageScore = sum / float64(len(r.assignments))
	}
	r.stats.Duration = r.m.now().Sub(r.started)

	r.m.metrics.CacheLookups(r.hits, r.misses)
	r.m.metrics.AssignmentScores(r.assignments)

	flags := r.flags
	if flags == nil {
		flags = []types.CannibalizationFlag{}
	}
	return &types.Result{
		JobID:                r.jobID,
		Assignments:          r.assignments,
		Orphans:              r.orphans,
		CannibalizationFlags: flags,
		Threshold:            r.threshold,
		Stats:                r.stats,
	}
}
