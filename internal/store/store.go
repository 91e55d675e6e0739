// Package store persists embedding documents and serves similarity search.
//
// The write path is version-guarded: every mutation carries the LSN of the
// change event that produced it, and a mutation whose version is not strictly
// greater than the stored one is silently dropped. That single rule is what
// makes at-least-once delivery and out-of-order arrival safe: re-applying an
// old event is a no-op, not corruption.
//
// Deletes are tombstones, not removals: the row keeps its id and version so a
// late stale upsert cannot resurrect it, and a genuinely newer insert
// recreates the document.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Document is a single embedded source row.
// id = source_table + ":" + primary_key, so the store never holds two
// documents for the same row.
type Document struct {
	ID            string
	Table         string
	Key           string
	Content       string
	ContentHash   string
	Vector        []float32
	Metadata      map[string]string
	SourceVersion int64
}

// Result is a single search hit, ordered by descending cosine similarity.
type Result struct {
	ID            string
	Content       string
	Metadata      map[string]string
	Score         float32
	SourceVersion int64
}

// Writer applies version-guarded mutations.
type Writer interface {
	// Upsert inserts or updates a document. Returns false (and no error)
	// when a stored document for the same id already has a source_version
	// greater than or equal to the incoming one.
	Upsert(ctx context.Context, doc Document) (applied bool, err error)

	// Delete tombstones a document. Same version guard as Upsert; a later
	// insert with a higher version recreates the document.
	Delete(ctx context.Context, id string, version int64) (applied bool, err error)
}

// Searcher performs approximate nearest-neighbor search by cosine similarity.
// Tombstoned documents are never returned.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]Result, error)
}

// SplitID splits a document id back into source table and primary key.
func SplitID(id string) (table, key string, err error) {
	table, key, ok := strings.Cut(id, ":")
	if !ok || table == "" || key == "" {
		return "", "", fmt.Errorf("invalid document id %q", id)
	}
	return table, key, nil
}
