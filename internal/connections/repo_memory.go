package connections

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	conns map[string]Connection
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{conns: map[string]Connection{}}
}

func (r *MemoryRepo) Put(c Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, status Status, lastError string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.LastError = lastError
	c.UpdatedAt = now
	r.conns[id] = c
	return nil
}
