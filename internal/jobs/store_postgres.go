package jobs

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists jobs in the processing_jobs table.
//
// The claim relies on FOR UPDATE SKIP LOCKED so concurrent workers never
// block on or receive the same row. A read-then-update claim would race.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const jobColumns = `
id, tenant_id, call_record_id, type, status, priority, attempts, max_attempts,
scheduled_for, started_at, completed_at, COALESCE(last_error, ''), COALESCE(result, ''),
created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.TenantID,
		&j.CallRecordID,
		&j.Type,
		&j.Status,
		&j.Priority,
		&j.Attempts,
		&j.MaxAttempts,
		&j.ScheduledFor,
		&j.StartedAt,
		&j.CompletedAt,
		&j.LastError,
		&j.Result,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	return j, err
}

const enqueueSQL = `
INSERT INTO processing_jobs (
  id, tenant_id, call_record_id, type, status, priority, attempts, max_attempts,
  scheduled_for, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`

func normalizeForEnqueue(j Job, now time.Time) Job {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Type == "" {
		j.Type = TypeFullPipeline
	}
	if j.Priority == 0 {
		j.Priority = DefaultPriority
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	j.Status = StatusPending
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now
	return j
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func enqueueOn(ctx context.Context, db execer, j Job) (Job, error) {
	j = normalizeForEnqueue(j, time.Now().UTC())
	_, err := db.ExecContext(ctx, enqueueSQL,
		j.ID,
		j.TenantID,
		j.CallRecordID,
		j.Type,
		j.Status,
		j.Priority,
		j.Attempts,
		j.MaxAttempts,
		j.ScheduledFor,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, j Job) (Job, error) {
	return enqueueOn(ctx, s.db, j)
}

// EnqueueTx inserts a job inside a caller-owned transaction, so a job and
// the row it references can commit together.
func EnqueueTx(ctx context.Context, tx *sql.Tx, j Job) (Job, error) {
	return enqueueOn(ctx, tx, j)
}

func (s *PostgresStore) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	// SKIP LOCKED hands each eligible row to at most one claimer without
	// blocking the others.
	const q = `
WITH next AS (
  SELECT id
  FROM processing_jobs
  WHERE status = 'pending' AND scheduled_for <= $1
  ORDER BY priority ASC, created_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
UPDATE processing_jobs j
SET status = 'processing', started_at = $1, attempts = j.attempts + 1, updated_at = $1
FROM next
WHERE j.id = next.id
RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRowContext(ctx, q, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, result string, now time.Time) error {
	const q = `
UPDATE processing_jobs
SET status = 'completed', completed_at = $2, result = $3, updated_at = $2
WHERE id = $1 AND status = 'processing'
`
	res, err := s.db.ExecContext(ctx, q, id, now, result)
	if err != nil {
		return err
	}
	return requireOneRow(ctx, s.db, res, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	// One statement decides re-arm vs terminal so the attempt counter and
	// the status can never disagree.
	const q = `
UPDATE processing_jobs
SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
    completed_at = CASE WHEN attempts >= max_attempts THEN $2 ELSE NULL END,
    started_at = NULL,
    last_error = $3,
    updated_at = $2
WHERE id = $1 AND status = 'processing'
`
	res, err := s.db.ExecContext(ctx, q, id, now, errMsg)
	if err != nil {
		return err
	}
	return requireOneRow(ctx, s.db, res, id)
}

func (s *PostgresStore) ResetStale(ctx context.Context, cutoff time.Time, now time.Time) (int, error) {
	const q = `
UPDATE processing_jobs
SET status = 'pending', started_at = NULL, updated_at = $2
WHERE status = 'processing' AND started_at < $1
`
	res, err := s.db.ExecContext(ctx, q, cutoff, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`
	j, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, status Status, limit int) ([]Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	q := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ReArm returns a terminal failed job to pending with a fresh attempt
// budget. Operator action, not part of the automatic retry cycle.
func (s *PostgresStore) ReArm(ctx context.Context, id string, now time.Time) error {
	const q = `
UPDATE processing_jobs
SET status = 'pending', attempts = 0, completed_at = NULL, scheduled_for = $2, updated_at = $2
WHERE id = $1 AND status = 'failed'
`
	res, err := s.db.ExecContext(ctx, q, id, now)
	if err != nil {
		return err
	}
	return requireOneRow(ctx, s.db, res, id)
}

func requireOneRow(ctx context.Context, db *sql.DB, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Distinguish a missing row from a transition violation.
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM processing_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}
