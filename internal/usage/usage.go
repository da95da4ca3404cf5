// Package usage maintains per-tenant monthly consumption counters. Counters
// feed billing reports and dashboards; they are advisory, never enforcing.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Delta is one pipeline run's consumption.
type Delta struct {
	Calls        int64
	AudioSeconds int64
	StorageBytes int64
}

// Counters is the accumulated usage for a tenant in one period.
type Counters struct {
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Period       string    `json:"period" db:"period"`
	Calls        int64     `json:"calls" db:"calls"`
	AudioSeconds int64     `json:"audio_seconds" db:"audio_seconds"`
	StorageBytes int64     `json:"storage_bytes" db:"storage_bytes"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Recorder accumulates usage deltas.
type Recorder interface {
	// Add folds d into the tenant's counters for the period containing t.
	Add(ctx context.Context, tenantID string, t time.Time, d Delta) error

	Get(ctx context.Context, tenantID, period string) (Counters, error)
}

// PeriodOf formats t's billing period, one calendar month in UTC.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder { return &PostgresRecorder{db: db} }

func (r *PostgresRecorder) Add(ctx context.Context, tenantID string, t time.Time, d Delta) error {
	const q = `
INSERT INTO tenant_usage (tenant_id, period, calls, audio_seconds, storage_bytes, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (tenant_id, period)
DO UPDATE SET calls = tenant_usage.calls + EXCLUDED.calls,
              audio_seconds = tenant_usage.audio_seconds + EXCLUDED.audio_seconds,
              storage_bytes = tenant_usage.storage_bytes + EXCLUDED.storage_bytes,
              updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		tenantID, PeriodOf(t), d.Calls, d.AudioSeconds, d.StorageBytes, t.UTC())
	return err
}

func (r *PostgresRecorder) Get(ctx context.Context, tenantID, period string) (Counters, error) {
	const q = `
SELECT tenant_id, period, calls, audio_seconds, storage_bytes, updated_at
FROM tenant_usage
WHERE tenant_id = $1 AND period = $2
`
	var c Counters
	err := r.db.QueryRowContext(ctx, q, tenantID, period).Scan(
		&c.TenantID,
		&c.Period,
		&c.Calls,
		&c.AudioSeconds,
		&c.StorageBytes,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Zero counters for a period with no activity.
		return Counters{TenantID: tenantID, Period: period}, nil
	}
	return c, err
}
