package storage

import (
	"context"
	"time"

	"github.com/dshills/kwmatch/pkg/types"
)

// Storage persists embedding vectors and job history
type Storage interface {
	// Embedding operations
	LoadVectors(ctx context.Context, provider, model string, hashes []string) (map[string][]float32, error)
	SaveVectors(ctx context.Context, provider, model string, vectors map[string][]float32) error
	ClearEmbeddings(ctx context.Context) (int64, error)

	// Job operations
	SaveJob(ctx context.Context, job types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]types.Job, error)
	DeleteJob(ctx context.Context, id string) error

	// Result operations
	SaveResult(ctx context.Context, result *types.Result) error
	GetResult(ctx context.Context, jobID string) (*types.Result, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Embedding is a stored vector keyed by the hash of its normalized text
type Embedding struct {
	ContentHash string
	Provider    string
	Model       string
	Dimension   int
	Vector      []byte // Serialized float32 array
	CreatedAt   time.Time
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status types.Status // Empty matches every status
	Limit  int          // 0 means no limit
}

// Status contains statistics about the database
type Status struct {
	SchemaVersion   string
	EmbeddingsCount int
	JobsCount       int
	ResultsCount    int
	Driver          string
	BuildMode       string
}
