package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/kwmatch/internal/cannibalization"
	"github.com/dshills/kwmatch/internal/chunker"
	"github.com/dshills/kwmatch/internal/embedder"
	"github.com/dshills/kwmatch/internal/fusion"
	"github.com/dshills/kwmatch/internal/lexical"
	"github.com/dshills/kwmatch/internal/searcher"
	"github.com/dshills/kwmatch/internal/vectorindex"
	"github.com/dshills/kwmatch/pkg/types"
)

// load de-duplicates the input and precomputes page features
func (r *run) load(ctx context.Context) error {
	var ks, ps types.LoadStats
	r.keywords, ks = types.DedupeKeywords(r.in.Keywords)
	r.pages, ps = types.DedupePages(r.in.Pages)

	r.stats.TotalKeywords = len(r.keywords)
	r.stats.DuplicateKeywords = ks.Duplicates
	r.stats.SkippedKeywords = ks.Skipped
	r.stats.TotalPages = len(r.pages)
	r.stats.DuplicatePages = ps.Duplicates
	r.stats.SkippedPages = ps.Skipped

	if len(r.keywords) == 0 {
		return fmt.Errorf("%w: no usable keywords after de-duplication", types.ErrValidation)
	}
	if len(r.pages) == 0 {
		return fmt.Errorf("%w: no usable pages after de-duplication", types.ErrValidation)
	}

	r.keywordIndex = make(map[string]int, len(r.keywords))
	for i, kw := range r.keywords {
		r.keywordIndex[kw.Text] = i
	}

	r.pageIndex = make(map[string]int, len(r.pages))
	r.pageByNorm = make(map[string]int, len(r.pages))
	r.features = make([]fusion.PageFeatures, len(r.pages))
	for i, p := range r.pages {
		r.pageIndex[p.URL] = i
		if _, ok := r.pageByNorm[cannibalization.NormalizeURL(p.URL)]; !ok {
			r.pageByNorm[cannibalization.NormalizeURL(p.URL)] = i
		}
		r.features[i] = fusion.NewPageFeatures(p)
		r.progress.update(i+1, len(r.pages))
	}

	r.logger.Info("input loaded",
		zap.Int("keywords", len(r.keywords)),
		zap.Int("duplicate_keywords", ks.Duplicates),
		zap.Int("skipped_keywords", ks.Skipped),
		zap.Int("pages", len(r.pages)),
		zap.Int("skipped_pages", ps.Skipped))
	return nil
}

func (r *run) chunk(ctx context.Context) error {
	c, err := chunker.New(r.cfg.ChunkSize, r.cfg.ChunkOverlap)
	if err != nil {
		return err
	}

	r.pageChunks = make([][]int, len(r.pages))
	for i, p := range r.pages {
		pc := c.Chunk(p)
		if len(pc) == 0 {
			r.stats.SkippedPages++
		}
		for _, ch := range pc {
			r.pageChunks[i] = append(r.pageChunks[i], len(r.chunks))
			r.chunks = append(r.chunks, ch)
		}
		r.progress.update(i+1, len(r.pages))
	}
	r.stats.Chunks = len(r.chunks)

	if len(r.chunks) == 0 {
		return fmt.Errorf("%w: pages have no indexable content", types.ErrValidation)
	}
	return nil
}

// forEachBatch runs fn over [0, n) in BatchSize slices on up to Workers
// goroutines. The cancel flag is polled before each batch starts.
func (r *run) forEachBatch(ctx context.Context, n int, fn func(ctx context.Context, start, end int) error) error {
	size := r.cfg.BatchSize
	batches := (n + size - 1) / size
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for start := 0; start < n; start += size {
		if r.cancel.Cancelled() || gctx.Err() != nil {
			break
		}
		end := min(start+size, n)

		g.Go(func() error {
			if err := r.checkCancelled(); err != nil {
				return err
			}
			if err := fn(gctx, start, end); err != nil {
				return err
			}
			r.progress.update(int(done.Add(1)), batches)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) embed(ctx context.Context) error {
	return r.forEachBatch(ctx, len(r.chunks), func(ctx context.Context, start, end int) error {
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = r.chunks[start+i].Text
		}

		vectors, lookup, err := r.m.cache.LookupBatch(ctx, texts)
		if err != nil {
			return err
		}
		r.countLookup(lookup)

		for i, v := range vectors {
			r.chunks[start+i].Embedding = v
		}
		return nil
	})
}

func (r *run) buildVectorIndex(ctx context.Context) error {
	ix, err := vectorindex.New(vectorindex.Config{
		Dimension:      r.cfg.EmbeddingDimension,
		M:              r.cfg.MConnections,
		EfConstruction: r.cfg.EfConstruction,
		EfSearch:       r.cfg.EfSearch,
		Seed:           r.cfg.IndexSeed,
	})
	if err != nil {
		return err
	}

	size := r.cfg.BatchSize
	for start := 0; start < len(r.chunks); start += size {
		end := min(start+size, len(r.chunks))
		if err := ix.Build(ctx, r.chunks[start:end]); err != nil {
			return err
		}
		r.progress.update(end, len(r.chunks))
	}

	r.vectors = ix
	return nil
}

func (r *run) buildLexicalIndex(ctx context.Context) error {
	ix, err := lexical.Build(r.pages, lexical.Params{
		K1:         r.cfg.BM25K1,
		B:          r.cfg.BM25B,
		TitleBoost: r.cfg.TitleBoost,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrIndexBuild, err)
	}
	r.text = ix
	r.search = searcher.New(r.vectors, r.text)
	r.progress.update(1, 1)
	return nil
}

// score retrieves and scores the candidates of every keyword. BM25 is left
// raw; its job-wide range is accumulated for finalize.
func (r *run) score(ctx context.Context) error {
	r.keywordVecs = make([][]float32, len(r.keywords))
	r.candidates = make([][]types.CandidateScore, len(r.keywords))

	return r.forEachBatch(ctx, len(r.keywords), func(ctx context.Context, start, end int) error {
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = r.keywords[start+i].Text
		}

		vectors, lookup, err := r.m.cache.LookupBatch(ctx, texts)
		if err != nil {
			return err
		}
		r.countLookup(lookup)

		var norm fusion.Normalizer
		for i, text := range texts {
			k := start + i
			r.keywordVecs[k] = vectors[i]

			resp, err := r.search.Search(ctx, searcher.Request{
				Query:  text,
				Vector: vectors[i],
				Limit:  r.cfg.TopKRetrieval,
			})
			if err != nil {
				return fmt.Errorf("keyword %q: %w", text, err)
			}

			q := fusion.NewQuery(text)
			cands := make([]types.CandidateScore, len(resp.Candidates))
			for j, c := range resp.Candidates {
				cands[j] = types.CandidateScore{
					Keyword:    text,
					URL:        c.URL,
					BM25Raw:    c.BM25Raw,
					Components: q.Components(r.features[r.pageIndex[c.URL]], c.EmbeddingSim),
				}
				norm.Observe(c.BM25Raw)
			}
			r.candidates[k] = cands
		}

		r.mu.Lock()
		r.bm25.Merge(norm)
		r.mu.Unlock()

		r.m.metrics.KeywordsProcessed(len(texts))
		r.m.metrics.VectorQueries(len(texts))
		return nil
	})
}

// finalize fuses the scores, derives the threshold from the best score of
// each keyword and splits keywords into assignments and orphans.
func (r *run) finalize(ctx context.Context) error {
	best := make([]float64, 0, len(r.keywords))
	for _, cands := range r.candidates {
		for j := range cands {
			c := &cands[j]
			c.Components.BM25Norm = r.bm25.Normalize(c.BM25Raw)
			c.FusedScore = fusion.Fuse(c.Components, r.cfg.Weights)
		}
		sort.SliceStable(cands, func(a, b int) bool {
			if cands[a].FusedScore != cands[b].FusedScore {
				return cands[a].FusedScore > cands[b].FusedScore
			}
			return cands[a].URL < cands[b].URL
		})
		if len(cands) > 0 {
			best = append(best, cands[0].FusedScore)
		}
	}

	r.threshold = fusion.AdaptiveThreshold(best, r.cfg.MinScoreThreshold)

	r.assignments = make([]types.Assignment, 0, len(r.keywords))
	r.orphans = make([]types.Orphan, 0)
	for i, kw := range r.keywords {
		cands := r.candidates[i]
		switch {
		case len(cands) == 0:
			r.orphans = append(r.orphans, types.Orphan{Keyword: kw.Text, Volume: kw.Volume})
		case cands[0].FusedScore < r.threshold.Effective:
			r.orphans = append(r.orphans, types.Orphan{
				Keyword:       kw.Text,
				Volume:        kw.Volume,
				BestScoreSeen: cands[0].FusedScore,
				BestURL:       cands[0].URL,
			})
		default:
			r.assignments = append(r.assignments, r.assign(kw, cands))
		}
		r.progress.update(i+1, len(r.keywords))
	}

	r.candidates = nil

	r.logger.Info("keywords finalized",
		zap.Float64("threshold", r.threshold.Effective),
		zap.Int("assigned", len(r.assignments)),
		zap.Int("orphans", len(r.orphans)))
	return nil
}

func (r *run) assign(kw types.Keyword, cands []types.CandidateScore) types.Assignment {
	top := cands[0]
	a := types.Assignment{
		Keyword:    kw.Text,
		Volume:     kw.Volume,
		URL:        top.URL,
		FusedScore: top.FusedScore,
		Rank:       1,
		Components: top.Components,
	}
	for j := 1; j < len(cands) && j <= r.cfg.TopSuggestions; j++ {
		a.Alternates = append(a.Alternates, types.Alternate{
			URL:        cands[j].URL,
			FusedScore: cands[j].FusedScore,
			Rank:       j + 1,
		})
	}
	return a
}

func (r *run) detectCannibalization(ctx context.Context) error {
	d := &cannibalization.Detector{
		Fetcher:    r.m.fetcher,
		WindowDays: r.cfg.CannibalizationWindowDays,
		Rescorer:   cannibalization.RescorerFunc(r.rescore),
		Logger:     r.logger,
		Cancelled:  r.checkCancelled,
	}
	flags, err := d.Detect(ctx, r.assignments, r.progress.update)
	if err != nil {
		return err
	}
	r.flags = flags
	return nil
}

// rescore computes the fused score of keyword against any corpus page with
// the job's weights and BM25 range. Embedding similarity is exact over all
// of the page's chunks.
func (r *run) rescore(keyword, url string) (float64, bool) {
	p, ok := r.pageByNorm[cannibalization.NormalizeURL(url)]
	if !ok {
		return 0, false
	}
	k, ok := r.keywordIndex[keyword]
	if !ok || r.keywordVecs[k] == nil {
		return 0, false
	}

	q := embedder.NormalizeVector(r.keywordVecs[k])
	sim := math.Inf(-1)
	for _, ci := range r.pageChunks[p] {
		sim = math.Max(sim, dot(q, embedder.NormalizeVector(r.chunks[ci].Embedding)))
	}

	c := fusion.NewQuery(keyword).Components(r.features[p], sim)
	c.BM25Norm = r.bm25.Normalize(r.text.Score(keyword, r.pages[p].URL))
	return fusion.Fuse(c, r.cfg.Weights), true
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
