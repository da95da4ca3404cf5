package cdr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"callrecording-platform/internal/connections"
	"callrecording-platform/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(t *testing.T) (*Service, *MemoryRepo, *jobs.MemoryStore) {
	t.Helper()
	repo := NewMemoryRepo()
	conns := connections.NewMemoryRepo()
	conns.Put(connections.Connection{
		ID:            "conn-1",
		TenantID:      "tenant-1",
		Host:          "pbx.example.com",
		Port:          8089,
		WebhookSecret: "s3cret",
		Status:        connections.StatusActive,
	})
	store := jobs.NewMemoryStore()
	ingest := MemoryIngest{Records: repo, Jobs: store}
	return NewService(repo, conns, ingest, nil, testLogger()), repo, store
}

func testInput(uniqueID string) IngestInput {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	answer := start.Add(4 * time.Second)
	return IngestInput{
		UniqueID:          uniqueID,
		Src:               "1001",
		Dst:               "+15550100",
		Direction:         DirectionOutbound,
		Disposition:       DispositionAnswered,
		StartTime:         start,
		AnswerTime:        &answer,
		EndTime:           start.Add(94 * time.Second),
		DurationSeconds:   94,
		RecordingFilename: "out-1001-20260310-090000.wav",
	}
}

func TestIngest_CreatesRecordAndJob(t *testing.T) {
	svc, repo, store := testService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, "conn-1", "s3cret", testInput("abc123"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Duplicate {
		t.Fatal("first delivery flagged duplicate")
	}
	if res.JobID == "" {
		t.Fatal("expected a job for a CDR with a recording")
	}

	rec, err := repo.GetByID(ctx, res.CallRecordID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.TenantID != "tenant-1" || rec.ProcessingStatus != StatusPending {
		t.Fatalf("unexpected record: %+v", rec)
	}

	job, err := store.GetByID(ctx, res.JobID)
	if err != nil {
		t.Fatalf("job GetByID: %v", err)
	}
	if job.Status != jobs.StatusPending || job.Attempts != 0 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.CallRecordID != res.CallRecordID {
		t.Fatalf("job references %q, want %q", job.CallRecordID, res.CallRecordID)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	svc, _, store := testService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, "conn-1", "s3cret", testInput("abc123"))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := svc.Ingest(ctx, "conn-1", "s3cret", testInput("abc123"))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if !second.Duplicate {
		t.Fatal("redelivery not flagged duplicate")
	}
	if second.CallRecordID != first.CallRecordID {
		t.Fatalf("redelivery resolved to %q, want %q", second.CallRecordID, first.CallRecordID)
	}
	if second.JobID != "" {
		t.Fatal("redelivery created a job")
	}

	pending, err := store.List(ctx, "tenant-1", jobs.StatusPending, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending jobs, want 1", len(pending))
	}
}

func TestIngest_NoRecordingNoJob(t *testing.T) {
	svc, repo, store := testService(t)
	ctx := context.Background()

	in := testInput("noanswer-1")
	in.Disposition = DispositionNoAnswer
	in.AnswerTime = nil
	in.RecordingFilename = ""

	res, err := svc.Ingest(ctx, "conn-1", "s3cret", in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.JobID != "" {
		t.Fatal("job created for a CDR without a recording")
	}

	rec, err := repo.GetByID(ctx, res.CallRecordID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.ProcessingStatus != StatusCompleted {
		t.Fatalf("status = %q, want completed for recording-less CDR", rec.ProcessingStatus)
	}

	all, err := store.List(ctx, "tenant-1", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("got %d jobs, want 0", len(all))
	}
}

func TestIngest_BadSecret(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.Ingest(context.Background(), "conn-1", "wrong", testInput("abc123"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestIngest_UnknownConnection(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.Ingest(context.Background(), "missing", "s3cret", testInput("abc123"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized for unknown connection", err)
	}
}

func TestAnalysisInsert_KeepsFirstRow(t *testing.T) {
	repo := NewMemoryAnalysisRepo()
	ctx := context.Background()

	if err := repo.Insert(ctx, Analysis{ID: "a-1", TenantID: "tenant-1", CallRecordID: "rec-1", Summary: "first"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// A replayed pipeline run re-inserts the same record's analysis; that
	// must not error and must not replace the original row.
	if err := repo.Insert(ctx, Analysis{ID: "a-2", TenantID: "tenant-1", CallRecordID: "rec-1", Summary: "second"}); err != nil {
		t.Fatalf("duplicate Insert: %v", err)
	}

	got, err := repo.GetByCallRecordID(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetByCallRecordID: %v", err)
	}
	if got.ID != "a-1" || got.Summary != "first" {
		t.Fatalf("first row not kept: %+v", got)
	}
}

func TestIngest_MissingUniqueID(t *testing.T) {
	svc, _, _ := testService(t)

	in := testInput("")
	_, err := svc.Ingest(context.Background(), "conn-1", "s3cret", in)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
