package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Keyword is a search phrase to be matched against the page corpus.
type Keyword struct {
	Text   string   `json:"text"`
	Volume *float64 `json:"volume,omitempty"` // Optional non-negative search volume
}

// UnmarshalJSON accepts a bare string as well as {"text", "volume"}
func (k *Keyword) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*k = Keyword{Text: text}
		return nil
	}
	type plain Keyword
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("keyword must be a string or {text, volume}: %w", err)
	}
	*k = Keyword(p)
	return nil
}

// Page is a document of the corpus. URL is the unique key.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// LoadStats counts what the load step merged or skipped.
type LoadStats struct {
	Total      int
	Duplicates int
	Skipped    int
}

// NormalizeKeyword returns the identity form of a keyword: lowercase,
// trimmed, inner whitespace collapsed to single spaces.
func NormalizeKeyword(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// DedupeKeywords normalizes keywords and merges duplicates, summing volumes.
// Blank keywords and negative volumes are skipped. Input order of first
// occurrence is preserved.
func DedupeKeywords(in []Keyword) ([]Keyword, LoadStats) {
	stats := LoadStats{Total: len(in)}
	out := make([]Keyword, 0, len(in))
	seen := make(map[string]int, len(in))

	for _, kw := range in {
		text := NormalizeKeyword(kw.Text)
		if text == "" || (kw.Volume != nil && *kw.Volume < 0) {
			stats.Skipped++
			continue
		}

		if idx, ok := seen[text]; ok {
			stats.Duplicates++
			out[idx].Volume = addVolumes(out[idx].Volume, kw.Volume)
			continue
		}

		seen[text] = len(out)
		out = append(out, Keyword{Text: text, Volume: copyVolume(kw.Volume)})
	}

	return out, stats
}

// DedupePages drops pages with a blank URL or blank content and keeps the
// first occurrence of each URL.
func DedupePages(in []Page) ([]Page, LoadStats) {
	stats := LoadStats{Total: len(in)}
	out := make([]Page, 0, len(in))
	seen := make(map[string]struct{}, len(in))

	for _, p := range in {
		url := strings.TrimSpace(p.URL)
		if url == "" || strings.TrimSpace(p.Content) == "" {
			stats.Skipped++
			continue
		}
		if _, ok := seen[url]; ok {
			stats.Duplicates++
			continue
		}
		seen[url] = struct{}{}
		out = append(out, Page{URL: url, Title: p.Title, Content: p.Content})
	}

	return out, stats
}

func addVolumes(a, b *float64) *float64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return copyVolume(b)
	case b == nil:
		return a
	}
	sum := *a + *b
	return &sum
}

func copyVolume(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
