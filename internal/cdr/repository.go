package cdr

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callrecording-platform/internal/jobs"
	"callrecording-platform/pkg/utils"
)

// Repo is the call-record persistence surface.
type Repo interface {
	// InsertDedup inserts r unless a row with the same (tenant_id,
	// uniqueid) exists, in which case the existing row is returned with
	// duplicate=true and nothing is written.
	InsertDedup(ctx context.Context, r Record) (Record, bool, error)

	GetByID(ctx context.Context, id string) (Record, error)
	GetByUniqueID(ctx context.Context, tenantID, uniqueID string) (Record, error)

	SetRecordingPath(ctx context.Context, id, path string, now time.Time) error
	SetTranscriptPath(ctx context.Context, id, path string, now time.Time) error
	SetProcessingStatus(ctx context.Context, id string, status ProcessingStatus, procErr string, now time.Time) error
}

// Ingester persists one webhook delivery: the record plus, when job is
// non-nil and the record is new, its pipeline job. Database-backed
// implementations commit both in a single transaction.
type Ingester interface {
	InsertDedupWithJob(ctx context.Context, r Record, job *jobs.Job) (Record, bool, error)
}

// AnalysisRepo persists call analyses, at most one per record.
type AnalysisRepo interface {
	Insert(ctx context.Context, a Analysis) error
	GetByCallRecordID(ctx context.Context, callRecordID string) (Analysis, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `
id, tenant_id, connection_id, uniqueid, src, dst, direction, disposition,
start_time, answer_time, end_time, duration,
COALESCE(recording_filename, ''), COALESCE(recording_path, ''), COALESCE(transcript_path, ''),
processing_status, COALESCE(processing_error, ''), created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.ConnectionID,
		&r.UniqueID,
		&r.Src,
		&r.Dst,
		&r.Direction,
		&r.Disposition,
		&r.StartTime,
		&r.AnswerTime,
		&r.EndTime,
		&r.DurationSeconds,
		&r.RecordingFilename,
		&r.RecordingPath,
		&r.TranscriptPath,
		&r.ProcessingStatus,
		&r.ProcessingError,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

// dbtx is the querying subset shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresRepo) InsertDedup(ctx context.Context, r Record) (Record, bool, error) {
	return insertDedupOn(ctx, p.db, r)
}

func insertDedupOn(ctx context.Context, db dbtx, r Record) (Record, bool, error) {
	// The unique constraint arbitrates duplicate deliveries; DO NOTHING
	// plus a follow-up select resolves the race without erroring.
	const insert = `
INSERT INTO call_records (
  id, tenant_id, connection_id, uniqueid, src, dst, direction, disposition,
  start_time, answer_time, end_time, duration, recording_filename,
  processing_status, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15,$16)
ON CONFLICT (tenant_id, uniqueid) DO NOTHING
RETURNING ` + recordColumns

	row := db.QueryRowContext(ctx, insert,
		r.ID,
		r.TenantID,
		r.ConnectionID,
		r.UniqueID,
		r.Src,
		r.Dst,
		r.Direction,
		r.Disposition,
		r.StartTime,
		r.AnswerTime,
		r.EndTime,
		r.DurationSeconds,
		r.RecordingFilename,
		r.ProcessingStatus,
		r.CreatedAt,
		r.UpdatedAt,
	)
	inserted, err := scanRecord(row)
	if err == nil {
		return inserted, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, err
	}

	found, err := getByUniqueIDOn(ctx, db, r.TenantID, r.UniqueID)
	if err != nil {
		return Record{}, false, err
	}
	return found, true, nil
}

// InsertDedupWithJob inserts the record and, when job is non-nil and the
// record is new, its pipeline job in one transaction. A webhook delivery
// commits both rows or neither, so a recording can never be stranded
// without queued work.
func (p *PostgresRepo) InsertDedupWithJob(ctx context.Context, r Record, job *jobs.Job) (Record, bool, error) {
	var (
		stored    Record
		duplicate bool
	)
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		stored, duplicate, err = insertDedupOn(ctx, tx, r)
		if err != nil || duplicate || job == nil {
			return err
		}
		*job, err = jobs.EnqueueTx(ctx, tx, *job)
		return err
	})
	if err != nil {
		return Record{}, false, err
	}
	return stored, duplicate, nil
}

func (p *PostgresRepo) GetByUniqueID(ctx context.Context, tenantID, uniqueID string) (Record, error) {
	return getByUniqueIDOn(ctx, p.db, tenantID, uniqueID)
}

func getByUniqueIDOn(ctx context.Context, db dbtx, tenantID, uniqueID string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM call_records WHERE tenant_id = $1 AND uniqueid = $2`
	r, err := scanRecord(db.QueryRowContext(ctx, q, tenantID, uniqueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (p *PostgresRepo) GetByID(ctx context.Context, id string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM call_records WHERE id = $1`
	r, err := scanRecord(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (p *PostgresRepo) SetRecordingPath(ctx context.Context, id, path string, now time.Time) error {
	return p.exec(ctx, `UPDATE call_records SET recording_path = $2, updated_at = $3 WHERE id = $1`, id, path, now)
}

func (p *PostgresRepo) SetTranscriptPath(ctx context.Context, id, path string, now time.Time) error {
	return p.exec(ctx, `UPDATE call_records SET transcript_path = $2, updated_at = $3 WHERE id = $1`, id, path, now)
}

func (p *PostgresRepo) SetProcessingStatus(ctx context.Context, id string, status ProcessingStatus, procErr string, now time.Time) error {
	return p.exec(ctx,
		`UPDATE call_records SET processing_status = $2, processing_error = NULLIF($3, ''), updated_at = $4 WHERE id = $1`,
		id, status, procErr, now)
}

func (p *PostgresRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type PostgresAnalysisRepo struct {
	db *sql.DB
}

func NewPostgresAnalysisRepo(db *sql.DB) *PostgresAnalysisRepo {
	return &PostgresAnalysisRepo{db: db}
}

// Insert keeps the first analysis written for a call record. A re-run of
// the pipeline after a crash may arrive with the row already in place; the
// conflict clause turns that into a no-op so the job can still complete.
func (p *PostgresAnalysisRepo) Insert(ctx context.Context, a Analysis) error {
	const q = `
INSERT INTO call_analyses (
  id, tenant_id, call_record_id, summary, sentiment, sentiment_score,
  escalation_risk, satisfaction_prediction, payload, storage_path, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (call_record_id) DO NOTHING
`
	_, err := p.db.ExecContext(ctx, q,
		a.ID,
		a.TenantID,
		a.CallRecordID,
		a.Summary,
		a.Sentiment,
		a.SentimentScore,
		a.EscalationRisk,
		a.SatisfactionPrediction,
		a.Payload,
		a.StoragePath,
		a.CreatedAt,
	)
	return err
}

func (p *PostgresAnalysisRepo) GetByCallRecordID(ctx context.Context, callRecordID string) (Analysis, error) {
	const q = `
SELECT id, tenant_id, call_record_id, summary, sentiment, sentiment_score,
       escalation_risk, satisfaction_prediction, payload, COALESCE(storage_path, ''), created_at
FROM call_analyses
WHERE call_record_id = $1
`
	var a Analysis
	if err := p.db.QueryRowContext(ctx, q, callRecordID).Scan(
		&a.ID,
		&a.TenantID,
		&a.CallRecordID,
		&a.Summary,
		&a.Sentiment,
		&a.SentimentScore,
		&a.EscalationRisk,
		&a.SatisfactionPrediction,
		&a.Payload,
		&a.StoragePath,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return a, nil
}
