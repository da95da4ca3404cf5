package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callrecording-platform/internal/config"
	"callrecording-platform/internal/jobs"
	"callrecording-platform/pkg/utils"
)

const concurrencyCapPrefix = "pipeline:active_jobs:"

// Worker polls the queue, claims jobs, and hands them to the orchestrator.
// A local semaphore caps concurrent jobs per process; when Redis is present
// the same count is mirrored there under a per-process key with a TTL, so
// operators can see a crashed worker's slots expire rather than leak. A
// periodic sweep returns jobs abandoned by crashed workers to pending.
type Worker struct {
	store  jobs.Store
	orch   *Orchestrator
	rdb    *redis.Client
	cfg    config.WorkerConfig
	logger *slog.Logger

	slots  chan struct{}
	capKey string
	wg     sync.WaitGroup
}

func NewWorker(store jobs.Store, orch *Orchestrator, rdb *redis.Client, cfg config.WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		store:  store,
		orch:   orch,
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxActiveJobs),
		capKey: concurrencyCapPrefix + uuid.NewString(),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"max_active_jobs", w.cfg.MaxActiveJobs,
		"stale_after", w.cfg.StaleAfter,
	)

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(w.cfg.StaleSweepInterval)
	defer sweep.Stop()

	// Drain the backlog immediately instead of waiting a full interval.
	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, waiting for in-flight jobs")
			w.wg.Wait()
			return
		case <-poll.C:
			w.drain(ctx)
		case <-sweep.C:
			w.sweepStale(ctx)
		}
	}
}

// drain claims and dispatches jobs until the queue is empty or the cap is
// reached.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !w.acquireSlot(ctx) {
			return
		}

		job, err := w.store.ClaimNext(ctx, time.Now().UTC())
		if err != nil {
			w.releaseSlot()
			w.logger.Error("claim failed", "err", err)
			return
		}
		if job == nil {
			w.releaseSlot()
			return
		}

		w.wg.Add(1)
		go func(j jobs.Job) {
			defer w.wg.Done()
			defer w.releaseSlot()
			// Errors are already settled onto the job; nothing to do here.
			_ = w.orch.Run(ctx, j)
		}(*job)
	}
}

// acquireSlot reserves one of this process's job slots. The local semaphore
// is the authority and holds with or without Redis; the Redis counter only
// mirrors it for visibility and TTL-based recovery after a crash.
func (w *Worker) acquireSlot(ctx context.Context) bool {
	select {
	case w.slots <- struct{}{}:
	default:
		return false
	}
	if w.rdb == nil {
		return true
	}
	ttl := 2 * w.cfg.StaleAfter
	ok, err := utils.AcquireConcurrencyCap(ctx, w.rdb, w.capKey, w.cfg.MaxActiveJobs, ttl)
	if err != nil {
		// The local slot is already held, so the cap stays enforced.
		w.logger.Warn("concurrency counter unavailable", "err", err)
		return true
	}
	if !ok {
		<-w.slots
	}
	return ok
}

func (w *Worker) releaseSlot() {
	defer func() { <-w.slots }()
	if w.rdb == nil {
		return
	}
	// Release must not be tied to a cancelled job context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := utils.ReleaseConcurrencyCap(ctx, w.rdb, w.capKey); err != nil {
		w.logger.Warn("concurrency cap release failed", "err", err)
	}
}

func (w *Worker) sweepStale(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-w.cfg.StaleAfter)
	n, err := w.store.ResetStale(ctx, cutoff, now)
	if err != nil {
		w.logger.Error("stale sweep failed", "err", err)
		return
	}
	if n > 0 {
		w.logger.Warn("stale jobs returned to pending", "count", n, "stale_after", w.cfg.StaleAfter)
	}
}
