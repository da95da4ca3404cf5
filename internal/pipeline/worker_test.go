package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"callrecording-platform/internal/cdr"
	"callrecording-platform/internal/config"
	"callrecording-platform/internal/jobs"
)

func TestWorkerDrainsQueue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	recordIDs := []string{"rec-1", "rec-2", "rec-3"}
	for i, id := range recordIDs {
		if _, _, err := e.records.InsertDedup(ctx, cdr.Record{
			ID:                id,
			TenantID:          "tenant-1",
			ConnectionID:      "conn-1",
			UniqueID:          id + "-uid",
			Direction:         cdr.DirectionInbound,
			Disposition:       cdr.DispositionAnswered,
			StartTime:         now.Add(time.Duration(i) * time.Minute),
			EndTime:           now.Add(time.Duration(i)*time.Minute + 30*time.Second),
			DurationSeconds:   30,
			RecordingFilename: id + ".wav",
			ProcessingStatus:  cdr.StatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			t.Fatalf("InsertDedup: %v", err)
		}
		if _, err := e.store.Enqueue(ctx, jobs.Job{
			ID:           "job-" + id,
			TenantID:     "tenant-1",
			CallRecordID: id,
			Type:         jobs.TypeFullPipeline,
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	w := NewWorker(e.store, e.orch, nil, config.WorkerConfig{
		PollInterval:       10 * time.Millisecond,
		MaxActiveJobs:      2,
		StaleAfter:         time.Minute,
		StaleSweepInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		completed, err := e.store.List(ctx, "tenant-1", jobs.StatusCompleted, 10)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(completed) == len(recordIDs) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained: %d of %d completed", len(completed), len(recordIDs))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	for _, id := range recordIDs {
		rec, err := e.records.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID %s: %v", id, err)
		}
		if rec.ProcessingStatus != cdr.StatusCompleted {
			t.Fatalf("record %s status = %q", id, rec.ProcessingStatus)
		}
	}
}

// The cap must hold even without Redis: the local semaphore alone limits
// how many jobs run at once.
func TestWorkerCapsConcurrencyWithoutRedis(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Keep each job in flight long enough for overlap to be observable.
	e.transcr.delay = 50 * time.Millisecond

	const jobCount = 5
	for i := 0; i < jobCount; i++ {
		id := "rec-" + string(rune('a'+i))
		if _, _, err := e.records.InsertDedup(ctx, cdr.Record{
			ID:                id,
			TenantID:          "tenant-1",
			ConnectionID:      "conn-1",
			UniqueID:          id + "-uid",
			Direction:         cdr.DirectionInbound,
			Disposition:       cdr.DispositionAnswered,
			StartTime:         now,
			EndTime:           now.Add(30 * time.Second),
			DurationSeconds:   30,
			RecordingFilename: id + ".wav",
			ProcessingStatus:  cdr.StatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			t.Fatalf("InsertDedup: %v", err)
		}
		if _, err := e.store.Enqueue(ctx, jobs.Job{
			ID:           "job-" + id,
			TenantID:     "tenant-1",
			CallRecordID: id,
			Type:         jobs.TypeFullPipeline,
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	w := NewWorker(e.store, e.orch, nil, config.WorkerConfig{
		PollInterval:       5 * time.Millisecond,
		MaxActiveJobs:      2,
		StaleAfter:         time.Minute,
		StaleSweepInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	for {
		completed, err := e.store.List(ctx, "tenant-1", jobs.StatusCompleted, 10)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(completed) == jobCount {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained: %d of %d completed", len(completed), jobCount)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	if peak := e.transcr.maxConcurrent(); peak > 2 {
		t.Fatalf("observed %d jobs in flight, cap is 2", peak)
	}
}
