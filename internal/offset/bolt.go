package offset

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketOffsets = []byte("offsets")

// Bolt is a durable Tracker backed by a local bbolt checkpoint file.
// Each Commit is a single fsynced transaction, keyed by partition.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens (or creates) the checkpoint file at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOffsets)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create offsets bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Last(_ context.Context, partition string) (int64, bool, error) {
	var lsn int64
	var ok bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOffsets).Get([]byte(partition))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("corrupt offset for partition %q: %d bytes", partition, len(data))
		}
		lsn = int64(binary.BigEndian.Uint64(data)) // #nosec G115 -- LSNs are positive
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return lsn, ok, nil
}

func (b *Bolt) Commit(_ context.Context, partition string, lsn int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(lsn)) // #nosec G115 -- LSNs are positive
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOffsets).Put([]byte(partition), buf[:])
	})
	if err != nil {
		return fmt.Errorf("committing offset %d for partition %q: %w", lsn, partition, err)
	}
	return nil
}

// Close closes the checkpoint file.
func (b *Bolt) Close() error {
	return b.db.Close()
}
