package offset

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Last(ctx, "patients:1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Last() ok for uncommitted partition")
	}

	if err := m.Commit(ctx, "patients:1", 42); err != nil {
		t.Fatal(err)
	}
	lsn, ok, err := m.Last(ctx, "patients:1")
	if err != nil || !ok || lsn != 42 {
		t.Errorf("Last() = %d, %v, %v, want 42", lsn, ok, err)
	}

	// Partitions are independent.
	if _, ok, _ := m.Last(ctx, "patients:2"); ok {
		t.Error("Last() leaked across partitions")
	}
}

func TestBoltTracker_CommitAndResume(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offsets.db")

	b, err := NewBolt(path)
	if err != nil {
		t.Fatalf("NewBolt() error = %v", err)
	}

	if _, ok, err := b.Last(ctx, "diagnoses:9"); err != nil || ok {
		t.Fatalf("Last() on empty db = %v, %v", ok, err)
	}

	if err := b.Commit(ctx, "diagnoses:9", 7); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(ctx, "diagnoses:9", 8); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: the checkpoint must survive the process boundary.
	b, err = NewBolt(path)
	if err != nil {
		t.Fatalf("reopen NewBolt() error = %v", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	lsn, ok, err := b.Last(ctx, "diagnoses:9")
	if err != nil || !ok || lsn != 8 {
		t.Errorf("Last() after reopen = %d, %v, %v, want 8", lsn, ok, err)
	}
}

func TestBoltTracker_ManyPartitions(t *testing.T) {
	ctx := context.Background()
	b, err := NewBolt(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	partitions := []string{"patients:1", "patients:2", "diagnoses:1"}
	for i, p := range partitions {
		if err := b.Commit(ctx, p, int64(i+1)*100); err != nil {
			t.Fatal(err)
		}
	}
	for i, p := range partitions {
		lsn, ok, err := b.Last(ctx, p)
		if err != nil || !ok || lsn != int64(i+1)*100 {
			t.Errorf("Last(%q) = %d, %v, %v", p, lsn, ok, err)
		}
	}
}
