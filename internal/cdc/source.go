package cdc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Source yields change events per partition in LSN order.
// Read returns events with LSN strictly greater than afterLSN, so a consumer
// that commits offsets after each write resumes exactly where it stopped.
// At-least-once semantics: the same events may be returned again after a
// crash; callers must tolerate re-delivery.
type Source interface {
	// Partitions lists the stream partitions currently known upstream.
	Partitions(ctx context.Context) ([]string, error)

	// Read returns up to limit events for one partition, ordered by LSN.
	Read(ctx context.Context, partition string, afterLSN int64, limit int) ([]Event, error)
}

// Querier is the subset of pgxpool.Pool used by the Postgres source.
// Interfaces are defined by the consumer, not the provider.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads the change_events outbox table the capture layer
// writes into. The (partition_id, lsn) primary key gives per-partition
// ordering for free.
type PostgresSource struct {
	db Querier
}

// NewPostgresSource creates a Source backed by the change_events table.
func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT partition_id FROM change_events ORDER BY partition_id`)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning partition: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading partitions: %w", err)
	}
	return parts, nil
}

func (s *PostgresSource) Read(ctx context.Context, partition string, afterLSN int64, limit int) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lsn, op, source_table, source_key, after_image, ts
		FROM change_events
		WHERE partition_id = $1 AND lsn > $2
		ORDER BY lsn
		LIMIT $3`,
		partition, afterLSN, limit)
	if err != nil {
		return nil, fmt.Errorf("reading partition %q after lsn %d: %w", partition, afterLSN, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev := Event{Partition: partition}
		var op string
		if err := rows.Scan(&ev.LSN, &op, &ev.Table, &ev.Key, &ev.After, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning change event: %w", err)
		}
		ev.Op = Op(op)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading change events: %w", err)
	}
	return events, nil
}

// MemorySource is an in-memory Source for tests and local development.
// Safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{events: make(map[string][]Event)}
}

// Append adds events to a partition. Events are kept sorted by LSN.
func (s *MemorySource) Append(partition string, events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		ev.Partition = partition
		s.events[partition] = append(s.events[partition], ev)
	}
	sort.SliceStable(s.events[partition], func(i, j int) bool {
		return s.events[partition][i].LSN < s.events[partition][j].LSN
	})
}

func (s *MemorySource) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, 0, len(s.events))
	for p := range s.events {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return parts, nil
}

func (s *MemorySource) Read(_ context.Context, partition string, afterLSN int64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.events[partition] {
		if ev.LSN > afterLSN {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
