package embed

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/biolink/semindex/internal/log"
)

// Batcher coalesces pending embed requests into one model call.
// Requests arriving within the batch window (or until the batch fills) share
// a single EmbedBatch call; the rate limiter bounds model-call frequency.
//
// Run must be started before Embed is called. Callers block only on their
// own result; partitions waiting on different batches do not serialize.
type Batcher struct {
	model    BatchEmbedder
	limiter  *rate.Limiter
	maxBatch int
	window   time.Duration
	requests chan batchRequest
	logger   log.Logger
}

type batchRequest struct {
	text  string
	reply chan batchResult
}

type batchResult struct {
	vector []float32
	err    error
}

// BatcherConfig tunes batching behavior.
type BatcherConfig struct {
	// MaxBatch is the largest number of texts per model call.
	MaxBatch int

	// Window is how long the first pending request waits for company.
	Window time.Duration

	// RateLimit is the maximum model calls per second; 0 disables limiting.
	RateLimit int
}

// NewBatcher creates a Batcher. Call Run to start it.
func NewBatcher(model BatchEmbedder, cfg BatcherConfig, logger log.Logger) *Batcher {
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = 20 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Batcher{
		model:    model,
		limiter:  rate.NewLimiter(limit, 1),
		maxBatch: cfg.MaxBatch,
		window:   cfg.Window,
		requests: make(chan batchRequest),
		logger:   logger,
	}
}

// Run services embed requests until ctx is cancelled.
func (b *Batcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-b.requests:
			batch := []batchRequest{first}
			timer := time.NewTimer(b.window)

		collect:
			for len(batch) < b.maxBatch {
				select {
				case <-ctx.Done():
					timer.Stop()
					b.fail(batch, ctx.Err())
					return
				case req := <-b.requests:
					batch = append(batch, req)
				case <-timer.C:
					break collect
				}
			}
			timer.Stop()

			b.flush(ctx, batch)
		}
	}
}

// Embed submits one text and waits for its vector.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	req := batchRequest{text: text, reply: make(chan batchResult, 1)}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.vector, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Batcher) flush(ctx context.Context, batch []batchRequest) {
	if err := b.limiter.Wait(ctx); err != nil {
		b.fail(batch, err)
		return
	}

	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	vectors, err := b.model.EmbedBatch(ctx, texts)
	if err != nil {
		b.logger.Warn("embed batch failed", "size", len(batch), "error", err)
		b.fail(batch, fmt.Errorf("embedding batch of %d: %w", len(batch), err))
		return
	}

	b.logger.Debug("embedded batch", "size", len(batch))
	for i, req := range batch {
		req.reply <- batchResult{vector: vectors[i]}
	}
}

func (b *Batcher) fail(batch []batchRequest, err error) {
	for _, req := range batch {
		req.reply <- batchResult{err: err}
	}
}
