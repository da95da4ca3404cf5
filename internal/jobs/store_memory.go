package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with the same claim and transition semantics
// as PostgresStore, guarded by a mutex. Useful for tests; not intended for
// production use.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job

	// seq breaks CreatedAt ties deterministically when tests enqueue
	// faster than clock resolution.
	seq    int
	seqIdx map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   map[string]*Job{},
		seqIdx: map[string]int{},
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, j Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	now := time.Now().UTC()
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = now
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	cp := j
	s.jobs[j.ID] = &cp
	s.seq++
	s.seqIdx[j.ID] = s.seq
	return j, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Job
	for _, j := range s.jobs {
		if j.Status != StatusPending || j.ScheduledFor.After(now) {
			continue
		}
		if best == nil || claimLess(j, best, s.seqIdx) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusProcessing
	t := now
	best.StartedAt = &t
	best.Attempts++
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

func claimLess(a, b *Job, seq map[string]int) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return seq[a.ID] < seq[b.ID]
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id, result string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	j.Status = StatusCompleted
	t := now
	j.CompletedAt = &t
	j.Result = result
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	j.Status = FailureOutcome(j.Attempts, j.MaxAttempts)
	j.LastError = errMsg
	j.StartedAt = nil
	if j.Status == StatusFailed {
		t := now
		j.CompletedAt = &t
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ResetStale(ctx context.Context, cutoff time.Time, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = StatusPending
			j.StartedAt = nil
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string, status Status, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReArm(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusFailed {
		return ErrInvalidTransition
	}
	j.Status = StatusPending
	j.Attempts = 0
	j.CompletedAt = nil
	j.ScheduledFor = now
	j.UpdatedAt = now
	return nil
}
