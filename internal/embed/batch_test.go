package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// recordingBatchEmbedder records batch sizes and returns one vector per text.
type recordingBatchEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	calls   atomic.Int64
	err     error
}

func (r *recordingBatchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), texts...))
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

// startBatcher runs the batcher loop and returns a stop func. Tests defer
// stop after the goleak check so the loop is down before goroutines are
// counted.
func startBatcher(t *testing.T, model BatchEmbedder, cfg BatcherConfig) (*Batcher, func()) {
	t.Helper()
	b := NewBatcher(model, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	return b, func() {
		cancel()
		<-done
	}
}

func TestBatcher_SingleRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	model := &recordingBatchEmbedder{}
	b, stop := startBatcher(t, model, BatcherConfig{MaxBatch: 8, Window: 5 * time.Millisecond})
	defer stop()

	vec, err := b.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 1 || vec[0] != 5 {
		t.Errorf("Embed() = %v", vec)
	}
}

func TestBatcher_CoalescesConcurrentRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	model := &recordingBatchEmbedder{}
	// A generous window so all concurrent requests land in one batch.
	b, stop := startBatcher(t, model, BatcherConfig{MaxBatch: 16, Window: 200 * time.Millisecond})
	defer stop()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := string(rune('a'+i)) + " text"
			if _, err := b.Embed(context.Background(), text); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Embed() error = %v", err)
	}

	if calls := model.calls.Load(); calls >= n {
		t.Errorf("model called %d times for %d requests, expected coalescing", calls, n)
	}
}

func TestBatcher_RespectsMaxBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	model := &recordingBatchEmbedder{}
	b, stop := startBatcher(t, model, BatcherConfig{MaxBatch: 2, Window: 500 * time.Millisecond})
	defer stop()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Embed(context.Background(), string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	model.mu.Lock()
	defer model.mu.Unlock()
	for _, batch := range model.batches {
		if len(batch) > 2 {
			t.Errorf("batch of %d exceeds max 2", len(batch))
		}
	}
}

func TestBatcher_PropagatesModelError(t *testing.T) {
	defer goleak.VerifyNone(t)

	model := &recordingBatchEmbedder{err: errors.New("quota exhausted")}
	b, stop := startBatcher(t, model, BatcherConfig{MaxBatch: 4, Window: 5 * time.Millisecond})
	defer stop()

	if _, err := b.Embed(context.Background(), "text"); err == nil {
		t.Fatal("Embed() = nil error, want model failure")
	}
}

func TestBatcher_EmbedHonorsContext(t *testing.T) {
	model := &recordingBatchEmbedder{}
	b := NewBatcher(model, BatcherConfig{MaxBatch: 4, Window: time.Millisecond}, nil)
	// Run is never started: Embed must not block forever.

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := b.Embed(ctx, "text"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Embed() = %v, want DeadlineExceeded", err)
	}
}
