package embed

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/biolink/semindex/internal/log"
)

// Cache deduplicates embedding calls by content hash.
//
// Most row updates touch non-text columns, so the normalized text and its
// hash usually do not change; those events are served from the cache
// without a model call. The cache is shared across all partition workers:
// the read-check-then-embed sequence is collapsed per hash via singleflight,
// so the same text arriving concurrently from two partitions still costs
// exactly one model call.
type Cache struct {
	backend TextEmbedder
	logger  log.Logger

	mu      sync.RWMutex
	vectors map[string][]float32
	group   singleflight.Group
}

// NewCache creates a Cache in front of backend.
func NewCache(backend TextEmbedder, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Cache{
		backend: backend,
		logger:  logger,
		vectors: make(map[string][]float32),
	}
}

// Embed returns the vector and content hash for text, hitting the model only
// on the first request for a given hash. Callers must treat the returned
// vector as read-only.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, string, error) {
	hash := Hash(text)

	c.mu.RLock()
	vec, ok := c.vectors[hash]
	c.mu.RUnlock()
	if ok {
		return vec, hash, nil
	}

	ch := c.group.DoChan(hash, func() (any, error) {
		// The flight is shared by every caller of this hash; detach it from
		// the submitting caller so one cancelled partition does not fail the
		// waiters whose contexts are still live.
		ctx := context.WithoutCancel(ctx)

		// Recheck: another flight may have filled the entry between the
		// read above and this one.
		c.mu.RLock()
		vec, ok := c.vectors[hash]
		c.mu.RUnlock()
		if ok {
			return vec, nil
		}

		vec, err := c.backend.Embed(ctx, text)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.vectors[hash] = vec
		c.mu.Unlock()

		c.logger.Debug("cached embedding", "hash", hash[:12], "text_len", len(text))
		return vec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, hash, res.Err
		}
		return res.Val.([]float32), hash, nil
	case <-ctx.Done():
		return nil, hash, ctx.Err()
	}
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}
