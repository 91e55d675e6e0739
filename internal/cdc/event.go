// Package cdc defines the change-data-capture boundary: the change event
// shape, validation into typed per-table rows, the stream source consumed by
// the pipeline, and the dead-letter sink for events that cannot be processed.
//
// The capture transport itself is external. Whatever mechanism tails the
// source database log is expected to land well-formed events, partitioned by
// (source_table, primary_key) and ordered by LSN within each partition.
// Delivery is at-least-once: re-delivery after a crash is expected, not an
// error, and downstream writes are idempotent.
package cdc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Op is the row-level operation carried by a change event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrMalformed marks an event that can never be processed: unknown operation
// or table, missing key, unparseable after-image. Such events are routed to
// the dead-letter sink and the partition continues.
var ErrMalformed = errors.New("malformed change event")

// Event is a single row-level change from the capture layer.
type Event struct {
	Op        Op              `json:"op"`
	Table     string          `json:"table"`
	Key       string          `json:"key"`
	After     json.RawMessage `json:"after,omitempty"` // nil for deletes
	LSN       int64           `json:"lsn"`
	Timestamp time.Time       `json:"ts"`
	Partition string          `json:"partition"`
}

// DocumentID returns the vector store document id derived from the event:
// source table and primary key joined by a colon.
func (e Event) DocumentID() string {
	return e.Table + ":" + e.Key
}

// Validate checks the envelope fields. The after-image payload is validated
// separately by DecodeRow against the table schema.
func (e Event) Validate() error {
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformed, e.Op)
	}
	if e.Table == "" {
		return fmt.Errorf("%w: empty source table", ErrMalformed)
	}
	if e.Key == "" {
		return fmt.Errorf("%w: empty primary key", ErrMalformed)
	}
	if e.LSN <= 0 {
		return fmt.Errorf("%w: non-positive lsn %d", ErrMalformed, e.LSN)
	}
	if e.Op != OpDelete && len(e.After) == 0 {
		return fmt.Errorf("%w: %s without after-image", ErrMalformed, e.Op)
	}
	return nil
}
