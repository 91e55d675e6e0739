package store

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process store with the same version-guard semantics as
// Postgres. Similarity is exact cosine over all live documents, which is fine
// at the scale of tests and local development.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	doc     Document
	deleted bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memoryDoc)}
}

func (m *Memory) Upsert(_ context.Context, doc Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.docs[doc.ID]; ok && cur.doc.SourceVersion >= doc.SourceVersion {
		return false, nil
	}
	m.docs[doc.ID] = memoryDoc{doc: doc}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, id string, version int64) (bool, error) {
	table, key, err := SplitID(id)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.docs[id]; ok && cur.doc.SourceVersion >= version {
		return false, nil
	}
	m.docs[id] = memoryDoc{
		doc:     Document{ID: id, Table: table, Key: key, SourceVersion: version},
		deleted: true,
	}
	return true, nil
}

func (m *Memory) Search(_ context.Context, vector []float32, k int, filters map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Result
	for _, entry := range m.docs {
		if entry.deleted {
			continue
		}
		if !matchesFilters(entry.doc.Metadata, filters) {
			continue
		}
		results = append(results, Result{
			ID:            entry.doc.ID,
			Content:       entry.doc.Content,
			Metadata:      entry.doc.Metadata,
			Score:         cosine(vector, entry.doc.Vector),
			SourceVersion: entry.doc.SourceVersion,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Get returns the stored document and whether it is live (not tombstoned).
func (m *Memory) Get(id string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[id]
	if !ok || entry.deleted {
		return Document{}, false
	}
	return entry.doc, true
}

// Len returns the number of live documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entry := range m.docs {
		if !entry.deleted {
			n++
		}
	}
	return n
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// cosine returns the cosine similarity of two vectors, 0 when either is zero.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
