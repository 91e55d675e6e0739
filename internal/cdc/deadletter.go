package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// DeadLetter is an event that could not be processed, preserved for offline
// inspection instead of being dropped silently.
type DeadLetter struct {
	ID        uuid.UUID
	Partition string
	Event     Event
	Reason    string
	CreatedAt time.Time
}

// Sink is a durable store for dead-lettered events.
type Sink interface {
	Write(ctx context.Context, d DeadLetter) error
}

// Execer is the subset of pgxpool.Pool used by the Postgres sink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink persists dead letters in the dead_letters table.
type PostgresSink struct {
	db Execer
}

// NewPostgresSink creates a Sink backed by the dead_letters table.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, d DeadLetter) error {
	payload, err := json.Marshal(d.Event)
	if err != nil {
		return fmt.Errorf("marshaling dead letter event: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO dead_letters (id, partition_id, event, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Partition, payload, d.Reason, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("writing dead letter %s: %w", d.ID, err)
	}
	return nil
}

// MemorySink collects dead letters in memory. Safe for concurrent use.
type MemorySink struct {
	mu      sync.Mutex
	entries []DeadLetter
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, d DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, d)
	return nil
}

// Entries returns a copy of the collected dead letters.
func (s *MemorySink) Entries() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.entries))
	copy(out, s.entries)
	return out
}
