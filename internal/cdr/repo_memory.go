package cdr

import (
	"context"
	"sync"
	"time"

	"callrecording-platform/internal/jobs"
)

// MemoryRepo is an in-memory Repo for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]Record)}
}

func (m *MemoryRepo) InsertDedup(ctx context.Context, r Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.TenantID == r.TenantID && existing.UniqueID == r.UniqueID {
			return existing, true, nil
		}
	}
	m.records[r.ID] = r
	return r, false, nil
}

func (m *MemoryRepo) GetByID(ctx context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepo) GetByUniqueID(ctx context.Context, tenantID, uniqueID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TenantID == tenantID && r.UniqueID == uniqueID {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryRepo) SetRecordingPath(ctx context.Context, id, path string, now time.Time) error {
	return m.update(id, func(r *Record) {
		r.RecordingPath = path
		r.UpdatedAt = now
	})
}

func (m *MemoryRepo) SetTranscriptPath(ctx context.Context, id, path string, now time.Time) error {
	return m.update(id, func(r *Record) {
		r.TranscriptPath = path
		r.UpdatedAt = now
	})
}

func (m *MemoryRepo) SetProcessingStatus(ctx context.Context, id string, status ProcessingStatus, procErr string, now time.Time) error {
	return m.update(id, func(r *Record) {
		r.ProcessingStatus = status
		r.ProcessingError = procErr
		r.UpdatedAt = now
	})
}

func (m *MemoryRepo) update(id string, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	fn(&r)
	m.records[id] = r
	return nil
}

// MemoryIngest pairs the in-memory repo and job store behind the Ingester
// surface for tests.
type MemoryIngest struct {
	Records *MemoryRepo
	Jobs    *jobs.MemoryStore
}

func (m MemoryIngest) InsertDedupWithJob(ctx context.Context, r Record, job *jobs.Job) (Record, bool, error) {
	stored, duplicate, err := m.Records.InsertDedup(ctx, r)
	if err != nil || duplicate || job == nil {
		return stored, duplicate, err
	}
	enqueued, err := m.Jobs.Enqueue(ctx, *job)
	if err != nil {
		return Record{}, false, err
	}
	*job = enqueued
	return stored, false, nil
}

// MemoryAnalysisRepo is an in-memory AnalysisRepo for tests.
type MemoryAnalysisRepo struct {
	mu       sync.Mutex
	byRecord map[string]Analysis
}

func NewMemoryAnalysisRepo() *MemoryAnalysisRepo {
	return &MemoryAnalysisRepo{byRecord: make(map[string]Analysis)}
}

// Insert mirrors the Postgres repo's conflict handling: the first row for
// a call record wins and a duplicate insert is a silent no-op.
func (m *MemoryAnalysisRepo) Insert(ctx context.Context, a Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRecord[a.CallRecordID]; ok {
		return nil
	}
	m.byRecord[a.CallRecordID] = a
	return nil
}

func (m *MemoryAnalysisRepo) GetByCallRecordID(ctx context.Context, callRecordID string) (Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byRecord[callRecordID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return a, nil
}
