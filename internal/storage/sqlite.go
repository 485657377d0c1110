package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/kwmatch/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// loadBatchSize bounds the number of bound parameters per lookup query
const loadBatchSize = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

func nowUnix() int64 {
	return time.Now().UnixNano()
}

func toNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Embedding operations

// loadVectorsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) loadVectorsWithQuerier(ctx context.Context, q querier, provider, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	for start := 0; start < len(hashes); start += loadBatchSize {
		end := start + loadBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]

		query := `
			SELECT content_hash, dimension, vector
			FROM embeddings
			WHERE provider = ? AND model = ? AND content_hash IN (` + placeholders(len(batch)) + `)
		`
		args := make([]interface{}, 0, len(batch)+2)
		args = append(args, provider, model)
		for _, h := range batch {
			args = append(args, h)
		}

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load embeddings: %w", err)
		}
		for rows.Next() {
			var hash string
			var dim int
			var blob []byte
			if err := rows.Scan(&hash, &dim, &blob); err != nil {
				_ = rows.Close()
				return nil, err
			}
			vec := deserializeVector(blob)
			if len(vec) != dim {
				continue // Corrupt row, recompute
			}
			out[hash] = vec
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// LoadVectors returns the stored vectors among hashes for provider and model
func (s *SQLiteStorage) LoadVectors(ctx context.Context, provider, model string, hashes []string) (map[string][]float32, error) {
	return s.loadVectorsWithQuerier(ctx, s.querier(), provider, model, hashes)
}

// saveVectorsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) saveVectorsWithQuerier(ctx context.Context, q querier, provider, model string, vectors map[string][]float32) error {
	query := `
		INSERT INTO embeddings (content_hash, provider, model, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, provider, model) DO NOTHING
	`
	// Deterministic write order
	hashes := make([]string, 0, len(vectors))
	for h := range vectors {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	now := nowUnix()
	for _, h := range hashes {
		v := vectors[h]
		if _, err := q.ExecContext(ctx, query, h, provider, model, len(v), serializeVector(v), now); err != nil {
			return fmt.Errorf("failed to save embedding: %w", err)
		}
	}
	return nil
}

// SaveVectors stores vectors. An existing vector for the same hash,
// provider and model is kept.
func (s *SQLiteStorage) SaveVectors(ctx context.Context, provider, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.SaveVectors(ctx, provider, model, vectors); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) clearEmbeddingsWithQuerier(ctx context.Context, q querier) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM embeddings`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return result.RowsAffected()
}

// ClearEmbeddings deletes every stored vector and returns how many
func (s *SQLiteStorage) ClearEmbeddings(ctx context.Context) (int64, error) {
	return s.clearEmbeddingsWithQuerier(ctx, s.querier())
}

// Job operations

// saveJobWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) saveJobWithQuerier(ctx context.Context, q querier, job types.Job) error {
	query := `
		INSERT INTO jobs (id, status, progress, step, error, memory_estimate, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			step = excluded.step,
			error = excluded.error,
			memory_estimate = excluded.memory_estimate,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`
	var errMsg sql.NullString
	if job.Error != "" {
		errMsg = sql.NullString{String: job.Error, Valid: true}
	}
	_, err := q.ExecContext(ctx, query,
		job.ID, string(job.Status), job.Progress, int(job.Step), errMsg,
		int64(job.MemoryEstimate), job.CreatedAt.UnixNano(),
		toNull(job.StartedAt), toNull(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// SaveJob inserts or updates a job snapshot
func (s *SQLiteStorage) SaveJob(ctx context.Context, job types.Job) error {
	return s.saveJobWithQuerier(ctx, s.querier(), job)
}

const jobColumns = `id, status, progress, step, error, memory_estimate, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var job types.Job
	var status string
	var step int
	var errMsg sql.NullString
	var mem, created int64
	var started, finished sql.NullInt64
	if err := row.Scan(&job.ID, &status, &job.Progress, &step, &errMsg, &mem, &created, &started, &finished); err != nil {
		return nil, err
	}
	job.Status = types.Status(status)
	job.Step = types.Step(step)
	job.StepLabel = job.Step.String()
	job.Error = errMsg.String
	job.MemoryEstimate = uint64(mem)
	job.CreatedAt = time.Unix(0, created)
	job.StartedAt = fromNull(started)
	job.FinishedAt = fromNull(finished)
	if !job.StartedAt.IsZero() && !job.FinishedAt.IsZero() {
		job.Elapsed = job.FinishedAt.Sub(job.StartedAt)
	}
	return &job, nil
}

// getJobWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getJobWithQuerier(ctx context.Context, q querier, id string) (*types.Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns a stored job snapshot
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return s.getJobWithQuerier(ctx, s.querier(), id)
}

// listJobsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listJobsWithQuerier(ctx context.Context, q querier, filter JobFilter) ([]types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListJobs returns stored jobs, newest first
func (s *SQLiteStorage) ListJobs(ctx context.Context, filter JobFilter) ([]types.Job, error) {
	return s.listJobsWithQuerier(ctx, s.querier(), filter)
}

// deleteJobWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteJobWithQuerier(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// DeleteJob removes a job and its result
func (s *SQLiteStorage) DeleteJob(ctx context.Context, id string) error {
	return s.deleteJobWithQuerier(ctx, s.querier(), id)
}

// Result operations

// saveResultWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) saveResultWithQuerier(ctx context.Context, q querier, result *types.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	query := `
		INSERT INTO job_results (job_id, payload, assignments, orphans, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			payload = excluded.payload,
			assignments = excluded.assignments,
			orphans = excluded.orphans
	`
	if _, err := q.ExecContext(ctx, query, result.JobID, string(payload),
		len(result.Assignments), len(result.Orphans), nowUnix()); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// SaveResult stores the result of a completed job. The job row must exist.
func (s *SQLiteStorage) SaveResult(ctx context.Context, result *types.Result) error {
	return s.saveResultWithQuerier(ctx, s.querier(), result)
}

// getResultWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getResultWithQuerier(ctx context.Context, q querier, jobID string) (*types.Result, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload FROM job_results WHERE job_id = ?`, jobID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var result types.Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// GetResult returns the stored result of a job
func (s *SQLiteStorage) GetResult(ctx context.Context, jobID string) (*types.Result, error) {
	return s.getResultWithQuerier(ctx, s.querier(), jobID)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{Driver: DriverName, BuildMode: BuildMode}

	version, err := currentVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	counts := []struct {
		table string
		dst   *int
	}{
		{"embeddings", &status.EmbeddingsCount},
		{"jobs", &status.JobsCount},
		{"job_results", &status.ResultsCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return status, nil
}

// GetStatus returns database statistics
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction method implementations

func (t *sqliteTx) LoadVectors(ctx context.Context, provider, model string, hashes []string) (map[string][]float32, error) {
	return t.storage.loadVectorsWithQuerier(ctx, t.querier(), provider, model, hashes)
}

func (t *sqliteTx) SaveVectors(ctx context.Context, provider, model string, vectors map[string][]float32) error {
	return t.storage.saveVectorsWithQuerier(ctx, t.querier(), provider, model, vectors)
}

func (t *sqliteTx) ClearEmbeddings(ctx context.Context) (int64, error) {
	return t.storage.clearEmbeddingsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SaveJob(ctx context.Context, job types.Job) error {
	return t.storage.saveJobWithQuerier(ctx, t.querier(), job)
}

func (t *sqliteTx) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return t.storage.getJobWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListJobs(ctx context.Context, filter JobFilter) ([]types.Job, error) {
	return t.storage.listJobsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) DeleteJob(ctx context.Context, id string) error {
	return t.storage.deleteJobWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) SaveResult(ctx context.Context, result *types.Result) error {
	return t.storage.saveResultWithQuerier(ctx, t.querier(), result)
}

func (t *sqliteTx) GetResult(ctx context.Context, jobID string) (*types.Result, error) {
	return t.storage.getResultWithQuerier(ctx, t.querier(), jobID)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
