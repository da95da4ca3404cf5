package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder is an in-memory Recorder for tests.
type MemoryRecorder struct {
	mu       sync.Mutex
	counters map[string]Counters
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{counters: make(map[string]Counters)}
}

func (r *MemoryRecorder) Add(ctx context.Context, tenantID string, t time.Time, d Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	period := PeriodOf(t)
	key := tenantID + "/" + period
	c := r.counters[key]
	c.TenantID = tenantID
	c.Period = period
	c.Calls += d.Calls
	c.AudioSeconds += d.AudioSeconds
	c.StorageBytes += d.StorageBytes
	c.UpdatedAt = t.UTC()
	r.counters[key] = c
	return nil
}

func (r *MemoryRecorder) Get(ctx context.Context, tenantID, period string) (Counters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[tenantID+"/"+period]
	if !ok {
		return Counters{TenantID: tenantID, Period: period}, nil
	}
	return c, nil
}
