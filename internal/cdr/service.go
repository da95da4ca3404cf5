package cdr

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callrecording-platform/internal/connections"
	"callrecording-platform/internal/jobs"
	"callrecording-platform/pkg/utils"
)

const dedupTTL = 24 * time.Hour

// IngestInput is a parsed CDR webhook payload.
type IngestInput struct {
	UniqueID          string
	Src               string
	Dst               string
	Direction         Direction
	Disposition       string
	StartTime         time.Time
	AnswerTime        *time.Time
	EndTime           time.Time
	DurationSeconds   int
	RecordingFilename string
}

// IngestResult reports what ingestion did with a delivery.
type IngestResult struct {
	CallRecordID string `json:"call_record_id"`
	Duplicate    bool   `json:"duplicate"`
	JobID        string `json:"job_id,omitempty"`
}

// Service handles webhook CDR ingestion: authenticate the delivery against
// the connection's secret, dedup, persist, and enqueue pipeline work when a
// recording exists.
type Service struct {
	repo   Repo
	conns  connections.Repo
	ingest Ingester
	rdb    *redis.Client
	logger *slog.Logger
}

func NewService(repo Repo, conns connections.Repo, ingest Ingester, rdb *redis.Client, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		conns:  conns,
		ingest: ingest,
		rdb:    rdb,
		logger: logger,
	}
}

// Ingest processes one webhook delivery for a connection.
//
// Idempotent: redelivery of the same (tenant, uniqueid) returns the existing
// record with Duplicate=true and enqueues nothing. Redis only short-circuits
// obvious redeliveries; the database unique constraint is the authority.
func (s *Service) Ingest(ctx context.Context, connectionID, secret string, in IngestInput) (IngestResult, error) {
	if in.UniqueID == "" {
		return IngestResult{}, fmt.Errorf("%w: uniqueid is required", ErrInvalidInput)
	}

	conn, err := s.conns.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, connections.ErrNotFound) {
			// Indistinguishable from a bad secret to the caller.
			return IngestResult{}, ErrUnauthorized
		}
		return IngestResult{}, fmt.Errorf("load connection: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(conn.WebhookSecret)) != 1 {
		return IngestResult{}, ErrUnauthorized
	}

	if s.rdb != nil {
		key := fmt.Sprintf("cdr:seen:%s:%s", conn.TenantID, in.UniqueID)
		fresh, err := utils.MarkSeen(ctx, s.rdb, key, dedupTTL)
		if err != nil {
			// Redis being down must not block ingestion.
			s.logger.Warn("dedup cache unavailable", "error", err)
		} else if !fresh {
			existing, dupErr := s.repo.GetByUniqueID(ctx, conn.TenantID, in.UniqueID)
			if dupErr == nil {
				return IngestResult{CallRecordID: existing.ID, Duplicate: true}, nil
			}
			// Cache says seen but no row exists (e.g. earlier insert
			// failed after SetNX). Fall through to the real insert.
		}
	}

	now := time.Now().UTC()
	record := Record{
		ID:                uuid.NewString(),
		TenantID:          conn.TenantID,
		ConnectionID:      conn.ID,
		UniqueID:          in.UniqueID,
		Src:               in.Src,
		Dst:               in.Dst,
		Direction:         in.Direction,
		Disposition:       in.Disposition,
		StartTime:         in.StartTime,
		AnswerTime:        in.AnswerTime,
		EndTime:           in.EndTime,
		DurationSeconds:   in.DurationSeconds,
		RecordingFilename: in.RecordingFilename,
		ProcessingStatus:  StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if record.RecordingFilename == "" {
		// Nothing to process; the row is a terminal bookkeeping entry.
		record.ProcessingStatus = StatusCompleted
	}

	// The record and its job persist as one unit; a delivery can never
	// leave a recording behind with no queued work.
	var job *jobs.Job
	if record.RecordingFilename != "" {
		job = &jobs.Job{
			ID:           uuid.NewString(),
			TenantID:     record.TenantID,
			CallRecordID: record.ID,
			Type:         jobs.TypeFullPipeline,
			ScheduledFor: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	stored, duplicate, err := s.ingest.InsertDedupWithJob(ctx, record, job)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert call record: %w", err)
	}
	if duplicate {
		return IngestResult{CallRecordID: stored.ID, Duplicate: true}, nil
	}

	result := IngestResult{CallRecordID: stored.ID}
	if job != nil {
		result.JobID = job.ID
	}

	s.logger.Info("cdr ingested",
		"tenant_id", stored.TenantID,
		"call_record_id", stored.ID,
		"uniqueid", stored.UniqueID,
		"has_recording", stored.RecordingFilename != "",
	)
	return result, nil
}
