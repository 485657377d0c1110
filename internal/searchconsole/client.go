package searchconsole

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	sc "google.golang.org/api/searchconsole/v1"

	"github.com/dshills/kwmatch/internal/cannibalization"
	"github.com/dshills/kwmatch/internal/config"
)

const (
	// DefaultRowLimit caps the rows returned per keyword
	DefaultRowLimit = 5000

	dateLayout = "2006-01-02"

	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	readOnlyScope  = "https://www.googleapis.com/auth/webmasters.readonly"
)

// Client fetches per-keyword page performance from the Search Analytics
// API. It implements cannibalization.TopURLFetcher.
type Client struct {
	svc      *sc.Service
	siteURL  string
	rowLimit int64
	limiter  *RateLimiter
	logger   *zap.Logger
	now      func() time.Time
}

var _ cannibalization.TopURLFetcher = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used to compute the date window
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// TokenSource builds an OAuth2 token source from configuration. A static
// access token wins over a refresh token.
func TokenSource(ctx context.Context, cfg config.SearchConsoleConfig) (oauth2.TokenSource, error) {
	if cfg.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	}
	if cfg.RefreshToken == "" || cfg.ClientID == "" {
		return nil, ErrNoCredentials
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURL,
			TokenURL: googleTokenURL,
		},
		Scopes: []string{readOnlyScope},
	}
	return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}), nil
}

// New creates a client for cfg.SiteURL. clientOpts are applied after the
// token source, so option.WithEndpoint and option.WithHTTPClient can point
// the client elsewhere.
func New(ctx context.Context, cfg config.SearchConsoleConfig, clientOpts []option.ClientOption, opts ...Option) (*Client, error) {
	if cfg.SiteURL == "" {
		return nil, fmt.Errorf("searchconsole: site url is required")
	}

	ts, err := TokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, clientOpts...)

	svc, err := sc.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("searchconsole: create service: %w", err)
	}

	rowLimit := int64(cfg.RowLimit)
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}

	c := &Client{
		svc:      svc,
		siteURL:  cfg.SiteURL,
		rowLimit: rowLimit,
		limiter:  NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchTopURLs returns the pages that received impressions for keyword
// over the last windowDays days, most clicked first.
func (c *Client) FetchTopURLs(ctx context.Context, keyword string, windowDays int) ([]cannibalization.TopURL, error) {
	if windowDays <= 0 {
		windowDays = cannibalization.DefaultWindowDays
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	end := c.now().UTC()
	start := end.AddDate(0, 0, -windowDays)
	req := &sc.SearchAnalyticsQueryRequest{
		StartDate:  start.Format(dateLayout),
		EndDate:    end.Format(dateLayout),
		Dimensions: []string{"query", "page"},
		RowLimit:   c.rowLimit,
		DimensionFilterGroups: []*sc.ApiDimensionFilterGroup{{
			Filters: []*sc.ApiDimensionFilter{{
				Dimension:  "query",
				Operator:   "equals",
				Expression: keyword,
			}},
		}},
	}

	resp, err := c.svc.Searchanalytics.Query(c.siteURL, req).Context(ctx).Do()
	if err != nil {
		if IsRateLimited(err) {
			c.limiter.RecordRateLimitError(0)
		}
		return nil, fmt.Errorf("search analytics query %q: %w", keyword, WrapError(err))
	}

	urls := make([]cannibalization.TopURL, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.Keys) < 2 {
			continue
		}
		urls = append(urls, cannibalization.TopURL{
			URL:         row.Keys[1],
			Clicks:      row.Clicks,
			Impressions: row.Impressions,
			CTR:         row.Ctr,
			Position:    row.Position,
		})
	}
	sort.SliceStable(urls, func(i, j int) bool { return urls[i].Clicks > urls[j].Clicks })

	c.logger.Debug("search analytics rows",
		zap.String("keyword", keyword),
		zap.Int("rows", len(urls)))
	return urls, nil
}
