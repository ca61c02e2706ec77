// Package store provides durable state for specwright's chunk orchestration
// engine: projects, specs, chunks, tool calls, workers, and the worker queue.
// It is backed by SQLite through the pure-Go ncruces/go-sqlite3 driver.
package store

import "time"

// SpecStatus is the lifecycle state of a Spec.
type SpecStatus string

const (
	SpecStatusDraft     SpecStatus = "draft"
	SpecStatusReady     SpecStatus = "ready"
	SpecStatusRunning   SpecStatus = "running"
	SpecStatusReview    SpecStatus = "review"
	SpecStatusCompleted SpecStatus = "completed"
	SpecStatusMerged    SpecStatus = "merged"
)

// ChunkStatus is the lifecycle state of a Chunk.
type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusRunning   ChunkStatus = "running"
	ChunkStatusCompleted ChunkStatus = "completed"
	ChunkStatusFailed    ChunkStatus = "failed"
	ChunkStatusCancelled ChunkStatus = "cancelled"
)

// ReviewStatus is the verdict the Reviewer agent returns for a chunk.
type ReviewStatus string

const (
	ReviewStatusPass     ReviewStatus = "pass"
	ReviewStatusNeedsFix ReviewStatus = "needs_fix"
	ReviewStatusFail     ReviewStatus = "fail"
)

// ToolCallStatus is the lifecycle state of a ChunkToolCall.
type ToolCallStatus string

const (
	ToolCallStatusRunning   ToolCallStatus = "running"
	ToolCallStatusCompleted ToolCallStatus = "completed"
	ToolCallStatusError     ToolCallStatus = "error"
)

// WorkerStatus is the lifecycle state of a Worker.
type WorkerStatus string

const (
	WorkerStatusIdle      WorkerStatus = "idle"
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusPaused    WorkerStatus = "paused"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
)

// WorkerStep identifies which phase of ChunkRunner a Worker is currently in.
type WorkerStep string

const (
	WorkerStepExecuting WorkerStep = "executing"
	WorkerStepReviewing WorkerStep = "reviewing"
)

// Project is the root of ownership: it owns Specs, which own Chunks, ToolCalls,
// Workers, and QueueItems.
type Project struct {
	ID          string
	Name        string
	Directory   string
	Description string
	Config      string // opaque YAML blob, interpreted by callers
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Spec is a natural-language feature description plus an ordered DAG of Chunks.
type Spec struct {
	ID                   string
	ProjectID            string
	Title                string
	Content              string
	Version              int
	Status               SpecStatus
	BranchName           string
	OriginalBranch       string
	PRNumber             int
	PRURL                string
	WorktreePath         string
	WorktreeCreatedAt    *time.Time
	WorktreeLastActivity *time.Time
	PRMerged             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Chunk is a unit of work assigned to the coding agent.
type Chunk struct {
	ID             string
	SpecID         string
	Title          string
	Description    string
	Order          int
	Status         ChunkStatus
	Dependencies   []string
	Output         string
	OutputSummary  string
	Error          string
	ReviewStatus   ReviewStatus
	ReviewFeedback string
	CommitHash     string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChunkToolCall is one append-only record of a tool invocation made by the
// Executor agent while working on a Chunk.
type ChunkToolCall struct {
	ID          string
	ChunkID     string
	CallID      string
	Tool        string
	Input       string
	Output      string
	Status      ToolCallStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

// WorkerProgress tracks chunk counts for a Worker's current run.
type WorkerProgress struct {
	Current int
	Total   int
	Passed  int
	Failed  int
}

// Worker is a background slot running one Spec's RunSession headlessly.
type Worker struct {
	ID             string
	SpecID         string
	ProjectID      string
	Status         WorkerStatus
	CurrentChunkID string
	CurrentStep    WorkerStep
	Progress       WorkerProgress
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Error          string
}

// QueueItem is a Spec waiting for a free Worker slot.
type QueueItem struct {
	ID        string
	SpecID    string
	ProjectID string
	Priority  int
	AddedAt   time.Time
}
