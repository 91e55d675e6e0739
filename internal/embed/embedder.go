// Package embed turns normalized text into fixed-length vectors.
//
// The pipeline path goes through Cache (content-hash deduplication) and
// Batcher (micro-batching + rate limiting) before reaching the model. The
// query path calls One directly: questions are effectively unique, so caching
// them would only grow the map.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/firebase/genkit/go/ai"
)

// TextEmbedder embeds a single text. Implemented by Batcher and by Cache,
// so the cache can sit on top of the batcher.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts in one model call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Hash returns the content hash of normalized text: hex-encoded SHA-256.
// It is a pure function of its input; distinct rows with identical text
// share one hash and therefore one cache entry.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// fitDim adapts a model vector to the configured store dimension.
// Matryoshka models (gemini-embedding-001) return their native width; taking
// the leading dim components and renormalizing preserves similarity ordering
// at the smaller dimension. A vector narrower than the target is a
// configuration error, surfaced here instead of at the pgvector insert.
func fitDim(vec []float32, dim int) ([]float32, error) {
	if dim <= 0 || len(vec) == dim {
		return vec, nil
	}
	if len(vec) < dim {
		return nil, fmt.Errorf("model returned %d dimensions, store expects %d", len(vec), dim)
	}

	var sum float64
	for _, v := range vec[:dim] {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec[:dim], nil
	}
	scale := float32(1 / math.Sqrt(sum))
	out := make([]float32, dim)
	for i, v := range vec[:dim] {
		out[i] = v * scale
	}
	return out, nil
}

// Model adapts a Genkit ai.Embedder to BatchEmbedder, fitting every vector
// to the store dimension (0 keeps the model's native width).
type Model struct {
	embedder ai.Embedder
	dim      int
}

// NewModel wraps a Genkit embedder.
func NewModel(embedder ai.Embedder, dim int) *Model {
	return &Model{embedder: embedder, dim: dim}
}

func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := m.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		vec, err := fitDim(e.Embedding, m.dim)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Direct is a TextEmbedder that calls the model once per text, used on the
// query path where batching has nothing to coalesce. Question vectors are
// fitted to the same dimension as the indexed documents.
type Direct struct {
	embedder ai.Embedder
	dim      int
}

// NewDirect wraps a Genkit embedder as a single-call TextEmbedder.
func NewDirect(embedder ai.Embedder, dim int) *Direct {
	return &Direct{embedder: embedder, dim: dim}
}

func (d *Direct) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := One(ctx, d.embedder, text)
	if err != nil {
		return nil, err
	}
	return fitDim(vec, d.dim)
}

// One embeds a single text with no caching, batching, or dimension fitting.
func One(ctx context.Context, embedder ai.Embedder, text string) ([]float32, error) {
	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}
