package cannibalization

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/kwmatch/pkg/types"
)

const (
	// DefaultWindowDays is the look-back window for performance data
	DefaultWindowDays = 90

	// ReasonNotInCorpus marks a flag whose top URL could not be scored
	ReasonNotInCorpus = "unscored: not in corpus"
)

// TopURL is one page's observed search performance for a keyword
type TopURL struct {
	URL         string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
}

// TopURLFetcher returns the pages that received traffic for a keyword over
// the last windowDays days.
type TopURLFetcher interface {
	FetchTopURLs(ctx context.Context, keyword string, windowDays int) ([]TopURL, error)
}

// Rescorer recomputes the fused score of a keyword against a corpus page.
// ok is false when url is not part of the corpus.
type Rescorer interface {
	Rescore(keyword, url string) (score float64, ok bool)
}

// RescorerFunc adapts a function to Rescorer
type RescorerFunc func(keyword, url string) (float64, bool)

// Rescore calls f
func (f RescorerFunc) Rescore(keyword, url string) (float64, bool) {
	return f(keyword, url)
}

// Detector flags assignments whose best-performing URL differs from the
// assigned one. It never modifies assignments.
type Detector struct {
	Fetcher    TopURLFetcher
	WindowDays int
	Rescorer   Rescorer
	Logger     *zap.Logger

	// Cancelled, when set, is checked before each fetch. A non-nil error
	// stops the pass and is returned as is.
	Cancelled func() error
}

// NormalizeURL lowercases url and strips its scheme, query string and
// trailing slashes so equivalent URLs compare equal.
func NormalizeURL(url string) string {
	u := strings.ToLower(strings.TrimSpace(url))
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

// ConfidenceLoss estimates how much confidence an assignment loses when
// another page already wins the traffic. The result is in [0, 1].
func ConfidenceLoss(assignedScore, clicks, position float64) float64 {
	clickWeight := math.Min(clicks/100, 1)
	positionPenalty := math.Max(0, (position-1)/10)
	scoreFactor := 1 - assignedScore

	loss := 0.4*clickWeight + 0.3*positionPenalty + 0.3*scoreFactor
	return math.Max(0, math.Min(loss, 1))
}

// Top returns the most-clicked URL, the first one on ties
func Top(urls []TopURL) (TopURL, bool) {
	if len(urls) == 0 {
		return TopURL{}, false
	}
	best := urls[0]
	for _, u := range urls[1:] {
		if u.Clicks > best.Clicks {
			best = u
		}
	}
	return best, true
}

// Detect checks every assignment. A failed fetch for one keyword is logged
// and skipped. progress, when non-nil, is called after each assignment.
// The only errors returned are ctx's and Cancelled's.
func (d *Detector) Detect(ctx context.Context, assignments []types.Assignment, progress func(done, total int)) ([]types.CannibalizationFlag, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := d.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}

	flags := make([]types.CannibalizationFlag, 0)
	if d.Fetcher == nil {
		return flags, nil
	}

	for i, a := range assignments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.Cancelled != nil {
			if err := d.Cancelled(); err != nil {
				return nil, err
			}
		}

		urls, err := d.Fetcher.FetchTopURLs(ctx, a.Keyword, window)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("top url fetch failed",
				zap.String("keyword", a.Keyword),
				zap.Error(err))
		} else if flag, ok := d.check(a, urls); ok {
			flags = append(flags, flag)
		}

		if progress != nil {
			progress(i+1, len(assignments))
		}
	}

	logger.Debug("cannibalization check finished",
		zap.Int("assignments", len(assignments)),
		zap.Int("flags", len(flags)))
	return flags, nil
}

func (d *Detector) check(a types.Assignment, urls []TopURL) (types.CannibalizationFlag, bool) {
	top, ok := Top(urls)
	if !ok || NormalizeURL(top.URL) == NormalizeURL(a.URL) {
		return types.CannibalizationFlag{}, false
	}

	flag := types.CannibalizationFlag{
		Keyword:        a.Keyword,
		AssignedURL:    a.URL,
		AssignedScore:  a.FusedScore,
		TopURL:         top.URL,
		TopClicks:      top.Clicks,
		TopCTR:         top.CTR,
		TopPosition:    top.Position,
		ConfidenceLoss: ConfidenceLoss(a.FusedScore, top.Clicks, top.Position),
	}

	var score float64
	scored := false
	if d.Rescorer != nil {
		score, scored = d.Rescorer.Rescore(a.Keyword, top.URL)
	}
	if scored {
		gap := a.FusedScore - score
		flag.TopURLScore = &score
		flag.ScoreGap = &gap
		flag.Scored = true
	} else {
		flag.Reason = ReasonNotInCorpus
	}
	return flag, true
}
