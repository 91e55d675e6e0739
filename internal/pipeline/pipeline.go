// Package pipeline drives change events through extraction, embedding, and
// the vector store write, committing stream offsets only after the write is
// acknowledged.
//
// Scheduling model: one worker goroutine per stream partition, partitions
// fully in parallel. Within a partition events are strictly sequential: the
// next event is not touched until the previous one reached a terminal state
// (COMMITTED, DISCARDED, or DEAD_LETTER), which preserves per-entity ordering.
// The offset commit is the only synchronization barrier, so a crash
// re-delivers at most one in-flight batch per partition; the store's version
// guards make that re-delivery harmless.
package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/biolink/semindex/internal/cdc"
	"github.com/biolink/semindex/internal/extract"
	"github.com/biolink/semindex/internal/log"
	"github.com/biolink/semindex/internal/offset"
	"github.com/biolink/semindex/internal/store"
)

// State is the lifecycle stage of a change event inside the pipeline.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateDiscarded        State = "DISCARDED"
	StateNormalized       State = "NORMALIZED"
	StateEmbeddingPending State = "EMBEDDING_PENDING"
	StateEmbedded         State = "EMBEDDED"
	StateWritten          State = "WRITTEN"
	StateCommitted        State = "COMMITTED"
	StateDeadLetter       State = "DEAD_LETTER"
)

// Embedder is the caching embedder consumed by the pipeline.
// Satisfied by *embed.Cache.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float32, hash string, err error)
}

// Config tunes polling, batching, and retry behavior.
type Config struct {
	// PollInterval is how long an idle partition waits before re-reading,
	// and how often the source is re-scanned for new partitions.
	PollInterval time.Duration

	// BatchSize is the maximum number of events read per poll.
	BatchSize int

	// MaxRetries bounds retries of embedding calls before dead-lettering.
	// Vector store writes are retried without bound: an unavailable store
	// pauses the partition instead of dropping events.
	MaxRetries int

	// BackoffBase and BackoffCap shape the exponential retry delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Deps are the pipeline's constructed dependencies.
type Deps struct {
	Source      cdc.Source
	Extractor   *extract.Extractor
	Embedder    Embedder
	Writer      store.Writer
	Offsets     offset.Tracker
	DeadLetters cdc.Sink
}

// Pipeline consumes the change stream and keeps the vector store synchronized.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger log.Logger
}

// New creates a Pipeline. Call Run to start it.
func New(deps Deps, cfg Config, logger log.Logger) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = 30 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Run starts one worker per partition and blocks until ctx is cancelled or a
// worker fails unrecoverably. The source is re-scanned for new partitions on
// every poll interval.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	known := make(map[string]struct{})

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		parts, err := p.deps.Source.Partitions(gctx)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			p.logger.Warn("listing partitions failed", "error", err)
		}
		for _, part := range parts {
			if _, ok := known[part]; ok {
				continue
			}
			known[part] = struct{}{}
			p.logger.Info("starting partition worker", "partition", part)
			g.Go(func() error {
				return p.runPartition(gctx, part)
			})
		}

		select {
		case <-gctx.Done():
			goto done
		case <-ticker.C:
		}
	}

done:
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runPartition is the consume → process → commit loop for one partition.
func (p *Pipeline) runPartition(ctx context.Context, partition string) error {
	logger := p.logger.With("partition", partition)

	last, _, err := p.deps.Offsets.Last(ctx, partition)
	if err != nil {
		return err
	}
	logger.Debug("resuming partition", "after_lsn", last)

	for {
		var events []cdc.Event
		// Transient read failures back off without reordering: nothing
		// past the failed read is touched until it succeeds.
		err := retry(ctx, 0, p.cfg.BackoffBase, p.cfg.BackoffCap, func() error {
			var readErr error
			events, readErr = p.deps.Source.Read(ctx, partition, last, p.cfg.BatchSize)
			if readErr != nil {
				logger.Warn("reading change stream failed, retrying", "error", readErr)
			}
			return readErr
		})
		if err != nil {
			return err
		}

		if len(events) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		for _, ev := range events {
			state, err := p.Process(ctx, ev)
			if err != nil {
				return err
			}

			// Offsets advance past dead-lettered and discarded events
			// too: they are terminal, re-delivering them cannot help.
			err = retry(ctx, 0, p.cfg.BackoffBase, p.cfg.BackoffCap, func() error {
				return p.deps.Offsets.Commit(ctx, partition, ev.LSN)
			})
			if err != nil {
				return err
			}
			last = ev.LSN

			if state == StateWritten {
				state = StateCommitted
			}
			logger.Debug("event done", "lsn", ev.LSN, "op", ev.Op, "doc", ev.DocumentID(), "state", string(state))
		}
	}
}
