// Package offset persists the resume point of each stream partition.
//
// The tracked value is the last LSN whose full pipeline (embed, write, ack)
// completed. Commit is called strictly after the vector store acknowledges
// the write, so a crash mid-pipeline re-delivers at most the in-flight batch
// on restart; correctness is then recovered by the store's version guards,
// not by the tracker alone.
package offset

import (
	"context"
	"sync"
)

// Tracker persists the last committed LSN per partition.
type Tracker interface {
	// Last returns the last committed LSN for a partition.
	// ok is false when the partition has never committed.
	Last(ctx context.Context, partition string) (lsn int64, ok bool, err error)

	// Commit records lsn as the new resume point for a partition.
	Commit(ctx context.Context, partition string, lsn int64) error
}

// Memory is an in-memory Tracker for tests. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	offsets map[string]int64
}

// NewMemory creates an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{offsets: make(map[string]int64)}
}

func (m *Memory) Last(_ context.Context, partition string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lsn, ok := m.offsets[partition]
	return lsn, ok, nil
}

func (m *Memory) Commit(_ context.Context, partition string, lsn int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[partition] = lsn
	return nil
}
