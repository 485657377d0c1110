// Package fusion turns per-signal similarities into one confidence score
// and decides which keywords are confident enough to assign.
//
// A keyword-page pair has four components, each in [0, 1]: embedding
// similarity, min-max normalized BM25, title token overlap and numeric
// agreement. The fused score is their weighted sum. The assignment
// threshold adapts to each job's score distribution (Q3 - 1.5*IQR of the
// best score per keyword) but never drops below a fixed floor.
package fusion
