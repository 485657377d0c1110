// Package storage provides SQLite-based persistence for embedding vectors
// and job history.
//
// The storage layer manages:
//   - Embedding vectors, keyed by the SHA-256 of the normalized text and
//     scoped by provider and model
//   - Job snapshots (status, progress, step, error, timestamps)
//   - Results of completed jobs, stored as JSON
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations (semantic versions)
//   - embeddings: (content_hash, provider, model) -> vector blob
//   - jobs: one row per job, updated on every status change
//   - job_results: result payload per completed job
//
// Timestamps are stored as Unix nanoseconds.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.kwmatch/kwmatch.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Persistent tier for the embedding cache
//	cache := embedder.NewCache(provider, embedder.WithStore(db))
//
// # Drivers
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// cgo_sqlite tag switches to github.com/mattn/go-sqlite3.
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.SaveJob(ctx, job); err != nil {
//	    return err
//	}
//	if err := tx.SaveResult(ctx, result); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Concurrency
//
// The database runs in WAL mode with a single open connection, so writes
// are serialized. All methods are safe for concurrent use.
package storage
