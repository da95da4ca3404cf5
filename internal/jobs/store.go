package jobs

import (
	"context"
	"time"
)

// Store is the job queue contract.
//
// ClaimNext is the single point of cross-worker contention and must be
// atomic: with N pending jobs and M concurrent claimers, every job is
// handed to exactly one claimer exactly once.
type Store interface {
	// Enqueue inserts a new pending job. Zero Priority/MaxAttempts get
	// the package defaults.
	Enqueue(ctx context.Context, j Job) (Job, error)

	// ClaimNext atomically selects the eligible pending job with the
	// lowest priority value (oldest first within a priority), moves it
	// to processing, stamps started_at and increments attempts.
	// Returns nil when no eligible job exists.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)

	// MarkCompleted finishes a processing job with a result summary.
	MarkCompleted(ctx context.Context, id, result string, now time.Time) error

	// MarkFailed records the error on a processing job and either
	// re-arms it (attempts < max) or parks it as terminal failed.
	// The error message is retained either way.
	MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error

	// ResetStale returns jobs stuck in processing since before cutoff to
	// pending, reporting how many were reset.
	ResetStale(ctx context.Context, cutoff time.Time, now time.Time) (int, error)

	// ReArm returns a terminal failed job to pending with a fresh
	// attempt budget. Operator action, never automatic.
	ReArm(ctx context.Context, id string, now time.Time) error

	GetByID(ctx context.Context, id string) (Job, error)

	// List returns jobs for a tenant, optionally filtered by status,
	// newest first.
	List(ctx context.Context, tenantID string, status Status, limit int) ([]Job, error)
}
