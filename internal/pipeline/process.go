package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/biolink/semindex/internal/cdc"
	"github.com/biolink/semindex/internal/store"
)

// Process drives a single event to a terminal state. The returned error is
// non-nil only for context cancellation; every other failure either resolves
// through retries or ends in the dead-letter sink.
//
// Failure routing:
//   - malformed events and permanently failing embeddings are dead-lettered,
//     the partition moves on
//   - vector store write failures are retried without bound, pausing the
//     partition until the store recovers; nothing is dropped
func (p *Pipeline) Process(ctx context.Context, ev cdc.Event) (State, error) {
	if err := ev.Validate(); err != nil {
		return p.deadLetter(ctx, ev, err)
	}

	docID := ev.DocumentID()

	if ev.Op == cdc.OpDelete {
		if err := p.delete(ctx, docID, ev.LSN); err != nil {
			return StateReceived, err
		}
		return StateWritten, nil
	}

	row, err := cdc.DecodeRow(ev.Table, ev.After)
	if err != nil {
		return p.deadLetter(ctx, ev, err)
	}

	text := p.deps.Extractor.Text(row)
	if text == "" {
		// All configured free-text columns are empty: whatever was
		// indexed for this row is stale, so tombstone it.
		if err := p.delete(ctx, docID, ev.LSN); err != nil {
			return StateNormalized, err
		}
		return StateDiscarded, nil
	}

	var vector []float32
	var hash string
	err = retry(ctx, p.cfg.MaxRetries, p.cfg.BackoffBase, p.cfg.BackoffCap, func() error {
		var embedErr error
		vector, hash, embedErr = p.deps.Embedder.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return StateEmbeddingPending, ctx.Err()
		}
		return p.deadLetter(ctx, ev, fmt.Errorf("embedding failed after %d attempts: %w", p.cfg.MaxRetries, err))
	}

	doc := store.Document{
		ID:            docID,
		Table:         ev.Table,
		Key:           ev.Key,
		Content:       text,
		ContentHash:   hash,
		Vector:        vector,
		Metadata:      row.Metadata(),
		SourceVersion: ev.LSN,
	}

	var applied bool
	err = retry(ctx, 0, p.cfg.BackoffBase, p.cfg.BackoffCap, func() error {
		var upsertErr error
		applied, upsertErr = p.deps.Writer.Upsert(ctx, doc)
		if upsertErr != nil {
			p.logger.Warn("vector store upsert failed, retrying", "doc", docID, "error", upsertErr)
		}
		return upsertErr
	})
	if err != nil {
		return StateEmbedded, err
	}
	if !applied {
		p.logger.Debug("stale upsert skipped", "doc", docID, "lsn", ev.LSN)
	}
	return StateWritten, nil
}

// delete tombstones a document, retrying until the store accepts the write.
func (p *Pipeline) delete(ctx context.Context, docID string, version int64) error {
	var applied bool
	err := retry(ctx, 0, p.cfg.BackoffBase, p.cfg.BackoffCap, func() error {
		var delErr error
		applied, delErr = p.deps.Writer.Delete(ctx, docID, version)
		if delErr != nil {
			p.logger.Warn("vector store delete failed, retrying", "doc", docID, "error", delErr)
		}
		return delErr
	})
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("stale delete skipped", "doc", docID, "lsn", version)
	}
	return nil
}

// deadLetter records the event and its failure reason, then lets the
// partition advance. The sink write itself is retried without bound: losing
// the dead letter would silently drop the event.
func (p *Pipeline) deadLetter(ctx context.Context, ev cdc.Event, cause error) (State, error) {
	d := cdc.DeadLetter{
		ID:        uuid.New(),
		Partition: ev.Partition,
		Event:     ev,
		Reason:    cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	err := retry(ctx, 0, p.cfg.BackoffBase, p.cfg.BackoffCap, func() error {
		return p.deps.DeadLetters.Write(ctx, d)
	})
	if err != nil {
		return StateReceived, err
	}
	p.logger.Warn("event dead-lettered",
		"partition", ev.Partition, "lsn", ev.LSN, "doc", ev.DocumentID(), "reason", cause.Error())
	return StateDeadLetter, nil
}
