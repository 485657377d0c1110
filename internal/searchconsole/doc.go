// Package searchconsole adapts the Google Search Console Search Analytics
// API to the cannibalization.TopURLFetcher interface.
//
// Credentials come from configuration: either a static access token or an
// OAuth2 client ID, secret and refresh token. Requests are rate limited
// with a token bucket; a 429 response pauses every request for a minute.
//
//	client, err := searchconsole.New(ctx, cfg.SearchConsole, nil)
//	urls, err := client.FetchTopURLs(ctx, "red shoes", 90)
package searchconsole
