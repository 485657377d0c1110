// Package types provides shared type definitions for the kwmatch engine.
//
// This package defines the domain types that flow between the chunker, the
// embedding cache, the indices, the fusion engine and the job manager:
// keywords, pages, chunks, candidate scores, assignments, orphans,
// cannibalization flags and job snapshots.
//
// # Inputs
//
// Keyword and Page are the two inputs of a matching job. Both are
// de-duplicated before any work starts:
//
//	keywords, kstats := types.DedupeKeywords(raw)
//	pages, pstats := types.DedupePages(rawPages)
//
// Keyword identity is the normalized text (lowercase, trimmed, inner
// whitespace collapsed); duplicate keywords are merged and their volumes
// summed. Page identity is the URL; the first occurrence wins.
//
// # Outputs
//
// Every keyword of a completed job ends up in exactly one of
// Result.Assignments or Result.Orphans. Cannibalization flags are advisory
// and never change an assignment.
//
// # Errors
//
// The error taxonomy is a set of sentinels (ErrValidation, ErrRetrieval,
// ErrIndexBuild, ErrJobNotFound, ErrJobNotCompleted) that callers test with
// errors.Is. Cancellation is reported through the job status, not as a
// failure.
package types
