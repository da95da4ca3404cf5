package connections

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repo is the persistence surface the webhook handler and pipeline need.
type Repo interface {
	GetByID(ctx context.Context, id string) (Connection, error)
	SetStatus(ctx context.Context, id string, status Status, lastError string, now time.Time) error
}

// PostgresRepo reads and updates pbx_connections.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Connection, error) {
	const q = `
SELECT id, tenant_id, host, port, username, verify_ssl, encrypted_password,
       webhook_secret, status, COALESCE(last_error, ''), created_at, updated_at
FROM pbx_connections
WHERE id = $1
`
	var c Connection
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.TenantID,
		&c.Host,
		&c.Port,
		&c.Username,
		&c.VerifySSL,
		&c.EncryptedPassword,
		&c.WebhookSecret,
		&c.Status,
		&c.LastError,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, err
	}
	return c, nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id string, status Status, lastError string, now time.Time) error {
	const q = `
UPDATE pbx_connections
SET status = $2, last_error = NULLIF($3, ''), updated_at = $4
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, status, lastError, now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
