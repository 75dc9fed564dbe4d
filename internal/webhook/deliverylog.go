package webhook

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delivery is an immutable record of one accepted webhook delivery, kept for
// replay debugging and correlation postmortems.
//
// Invariants:
// - Records are never updated or deleted.
// - Logging is best-effort; handlers must not fail a delivery on log errors.
type Delivery struct {
	ID         string    `json:"id" db:"id"`
	Endpoint   string    `json:"endpoint" db:"endpoint"`
	CallSID    string    `json:"call_sid,omitempty" db:"call_sid"`
	ResourceID string    `json:"resource_id,omitempty" db:"resource_id"`
	Payload    string    `json:"payload,omitempty" db:"payload"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DeliveryLog is append-only by design; no Update/Delete methods exist.
type DeliveryLog interface {
	Append(ctx context.Context, d Delivery) error
}

type PostgresDeliveryLog struct {
	db *sql.DB
}

func NewPostgresDeliveryLog(db *sql.DB) *PostgresDeliveryLog {
	return &PostgresDeliveryLog{db: db}
}

func (l *PostgresDeliveryLog) Append(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO webhook_deliveries (id, endpoint, call_sid, resource_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := l.db.ExecContext(ctx, q, d.ID, d.Endpoint, d.CallSID, d.ResourceID, d.Payload, d.CreatedAt)
	return err
}

// MemoryDeliveryLog is for tests and local development.
type MemoryDeliveryLog struct {
	mu      sync.Mutex
	entries []Delivery
}

func NewMemoryDeliveryLog() *MemoryDeliveryLog { return &MemoryDeliveryLog{} }

func (l *MemoryDeliveryLog) Append(_ context.Context, d Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, d)
	return nil
}

func (l *MemoryDeliveryLog) Entries() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Delivery, len(l.entries))
	copy(out, l.entries)
	return out
}
