package types

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no transition out of s is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step identifies a pipeline step. Steps run in declaration order.
type Step int

const (
	StepNone Step = iota
	StepLoad
	StepChunk
	StepEmbed
	StepVectorIndex
	StepLexicalIndex
	StepScore
	StepFinalize
	StepCannibalization
)

var stepLabels = map[Step]string{
	StepNone:            "",
	StepLoad:            "load and dedupe",
	StepChunk:           "chunk pages",
	StepEmbed:           "embed chunks",
	StepVectorIndex:     "build vector index",
	StepLexicalIndex:    "build lexical index",
	StepScore:           "retrieve and score keywords",
	StepFinalize:        "threshold and finalize",
	StepCannibalization: "cannibalization check",
}

// String returns the human-readable step label.
func (s Step) String() string {
	return stepLabels[s]
}

// Job is a point-in-time snapshot of a job. Snapshots are values; holding
// one never blocks the pipeline.
type Job struct {
	ID             string        `json:"id"`
	Status         Status        `json:"status"`
	Progress       float64       `json:"progress"` // 0..1
	Step           Step          `json:"step"`
	StepLabel      string        `json:"step_label"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	MemoryEstimate uint64        `json:"memory_estimate_bytes"`
	Error          string        `json:"error,omitempty"`
}
