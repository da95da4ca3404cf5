package connections

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("connections: not found")
)

type Status string

const (
	StatusActive Status = "active"
	StatusError  Status = "error"
)

// Connection is a tenant-owned PBX endpoint plus credentials.
//
// Multi-tenant invariant: TenantID is required on every row.
// EncryptedPassword only ever holds the credential envelope; the decrypted
// password lives transiently inside the pipeline and is never persisted or
// returned to callers.
type Connection struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Host      string `json:"host" db:"host"`
	Port      int    `json:"port" db:"port"`
	Username  string `json:"username" db:"username"`
	VerifySSL bool   `json:"verify_ssl" db:"verify_ssl"`

	EncryptedPassword string `json:"-" db:"encrypted_password"`
	WebhookSecret     string `json:"-" db:"webhook_secret"`

	Status    Status `json:"status" db:"status"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
