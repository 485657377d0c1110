// Package cannibalization compares keyword assignments against observed
// search performance.
//
// For each assignment the Detector asks a TopURLFetcher (usually Google
// Search Console) which pages received clicks for the keyword. When the
// most-clicked page differs from the assigned one, after URL
// normalization, the assignment is flagged. If the top page belongs to the
// corpus its fused score is recomputed and the gap to the assigned score
// reported; otherwise the flag is marked unscored.
//
// The pass is advisory: it never changes assignments, and a failed lookup
// for one keyword only skips that keyword.
package cannibalization
