package jobs

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("jobs: not found")

	// ErrInvalidTransition means a status change was requested that the
	// state machine does not allow (e.g. completing a pending job).
	ErrInvalidTransition = errors.New("jobs: invalid status transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Type string

// TypeFullPipeline is currently the only job type: download, transcribe,
// analyze, persist.
const TypeFullPipeline Type = "full_pipeline"

const (
	DefaultPriority    = 5
	DefaultMaxAttempts = 3
)

// Job is one unit of pipeline work, 1:1 with a call record that has a
// recording. Rows are never deleted; terminal states are kept for audit.
type Job struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	CallRecordID string `json:"call_record_id" db:"call_record_id"`

	Type   Type   `json:"type" db:"type"`
	Status Status `json:"status" db:"status"`

	// Priority: lower is claimed first. Ties break on CreatedAt (FIFO).
	Priority    int `json:"priority" db:"priority"`
	Attempts    int `json:"attempts" db:"attempts"`
	MaxAttempts int `json:"max_attempts" db:"max_attempts"`

	ScheduledFor time.Time  `json:"scheduled_for" db:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// LastError is kept verbatim for operator inspection and survives
	// re-arming for retry.
	LastError string `json:"last_error,omitempty" db:"last_error"`

	// Result is a small JSON summary written on completion.
	Result string `json:"result,omitempty" db:"result"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FailureOutcome decides what a failed attempt becomes: re-armed pending or
// terminal failed. Centralizing this keeps the transition table testable
// apart from any storage engine.
func FailureOutcome(attempts, maxAttempts int) Status {
	if attempts < maxAttempts {
		return StatusPending
	}
	return StatusFailed
}
