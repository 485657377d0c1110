package types

import (
	"errors"
	"time"
)

// Result validation errors
var (
	ErrInvalidRank  = errors.New("rank must be >= 1")
	ErrInvalidScore = errors.New("score must be between 0 and 1")
	ErrMissingURL   = errors.New("url is required")
)

// Components holds the per-signal similarities of a keyword-page pair,
// each in [0,1].
type Components struct {
	EmbeddingSim float64 `json:"embedding_sim"`
	BM25Norm     float64 `json:"bm25_norm"`
	TitleSim     float64 `json:"title_sim"`
	NumericSim   float64 `json:"numeric_sim"`
}

// CandidateScore is a transient (keyword, page) score record. BM25Norm and
// FusedScore stay zero until the job-wide BM25 range is known.
type CandidateScore struct {
	Keyword    string
	URL        string
	BM25Raw    float64
	Components Components
	FusedScore float64
}

// Alternate is a runner-up page for an assigned keyword.
type Alternate struct {
	URL        string  `json:"url"`
	FusedScore float64 `json:"fused_score"`
	Rank       int     `json:"rank"` // 2..N
}

// Assignment binds a keyword to its best page.
type Assignment struct {
	Keyword    string      `json:"keyword"`
	Volume     *float64    `json:"volume,omitempty"`
	URL        string      `json:"url"`
	FusedScore float64     `json:"fused_score"`
	Rank       int         `json:"rank"`
	Components Components  `json:"components"`
	Alternates []Alternate `json:"alternates,omitempty"`
}

// Validate checks if the assignment is valid
func (a *Assignment) Validate() error {
	if a.URL == "" {
		return ErrMissingURL
	}
	if a.Rank < 1 {
		return ErrInvalidRank
	}
	if a.FusedScore < 0 || a.FusedScore > 1 {
		return ErrInvalidScore
	}
	for _, alt := range a.Alternates {
		if alt.Rank < 2 {
			return ErrInvalidRank
		}
		if alt.FusedScore < 0 || alt.FusedScore > 1 {
			return ErrInvalidScore
		}
	}
	return nil
}

// Orphan is a keyword whose best candidate fell below the effective
// threshold, or that had no candidate at all (BestURL empty).
type Orphan struct {
	Keyword       string   `json:"keyword"`
	Volume        *float64 `json:"volume,omitempty"`
	BestScoreSeen float64  `json:"best_score_seen"`
	BestURL       string   `json:"best_url,omitempty"`
}

// CannibalizationFlag is an advisory record: the assigned URL differs from
// the URL that actually performs best for the keyword.
type CannibalizationFlag struct {
	Keyword       string  `json:"keyword"`
	AssignedURL   string  `json:"assigned_url"`
	AssignedScore float64 `json:"assigned_score"`

	TopURL      string  `json:"top_url"`
	TopClicks   float64 `json:"top_clicks"`
	TopCTR      float64 `json:"top_ctr"`
	TopPosition float64 `json:"top_position"`

	// Set only when the top URL is part of the corpus.
	TopURLScore *float64 `json:"top_url_score,omitempty"`
	// AssignedScore - TopURLScore, set only when Scored.
	ScoreGap *float64 `json:"score_gap,omitempty"`
	Scored   bool     `json:"scored"`
	Reason   string   `json:"reason,omitempty"`

	// Click-weighted estimate in [0,1].
	ConfidenceLoss float64 `json:"confidence_loss"`
}

// ThresholdInfo describes how the effective threshold was derived.
type ThresholdInfo struct {
	Q1        float64 `json:"q1"`
	Q3        float64 `json:"q3"`
	IQR       float64 `json:"iqr"`
	Floor     float64 `json:"floor"`
	Effective float64 `json:"effective"`
}

// SummaryStats summarizes a completed job.
type SummaryStats struct {
	TotalKeywords     int `json:"total_keywords"`
	DuplicateKeywords int `json:"duplicate_keywords"`
	SkippedKeywords   int `json:"skipped_keywords"`
	TotalPages        int `json:"total_pages"`
	DuplicatePages    int `json:"duplicate_pages"`
	SkippedPages      int `json:"skipped_pages"`
	Chunks            int `json:"chunks"`

	EmbeddingCacheHits   int64 `json:"embedding_cache_hits"`
	EmbeddingCacheMisses int64 `json:"embedding_cache_misses"`

	Assigned             int     `json:"assigned"`
	Orphans              int     `json:"orphans"`
	CannibalizationFlags int     `json:"cannibalization_flags"`
	AverageScore         float64 `json:"average_score"`

	Duration time.Duration `json:"duration_ns"`
}

// Result is the output of a completed job.
type Result struct {
	JobID                string                `json:"job_id"`
	Assignments          []Assignment          `json:"assignments"`
	Orphans              []Orphan              `json:"orphans"`
	CannibalizationFlags []CannibalizationFlag `json:"cannibalization_flags"`
	Threshold            ThresholdInfo         `json:"threshold"`
	Stats                SummaryStats          `json:"summary_stats"`
}
