// Package rag answers natural-language questions over the indexed registry
// documents. Retrieval is the gate: the generator only ever sees passages
// that cleared the similarity floor, and when nothing clears it the engine
// says so instead of letting the model guess.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/biolink/semindex/internal/embed"
	"github.com/biolink/semindex/internal/log"
	"github.com/biolink/semindex/internal/store"
)

// Status classifies a query outcome. All three are successful HTTP responses;
// only infrastructure failures surface as errors.
type Status string

const (
	// StatusOK means the answer is grounded in retrieved passages.
	StatusOK Status = "ok"

	// StatusInsufficientData means no passage cleared the similarity
	// floor. No generation was attempted.
	StatusInsufficientData Status = "insufficient_grounded_data"

	// StatusGenerationTimeout means retrieval succeeded but the model did
	// not answer within the deadline. Citations are still returned.
	StatusGenerationTimeout Status = "generation_timed_out"
)

var (
	// ErrEmptyQuestion rejects blank questions before any model call.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrUnavailable wraps vector store failures. The engine fails closed:
	// it never generates from partial or unverifiable retrieval.
	ErrUnavailable = errors.New("vector store unavailable")
)

// Generator produces an answer from a fully assembled prompt.
// Implemented by GenkitGenerator; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config tunes retrieval and generation.
type Config struct {
	// TopK is the default number of nearest neighbors retrieved.
	TopK int

	// SimilarityThreshold is the cosine similarity floor. Passages below
	// it are discarded before generation.
	SimilarityThreshold float64

	// MaxContextTokens caps the approximate token budget of the prompt
	// context. Passages are admitted in similarity order until the budget
	// is spent; the best passage is always admitted.
	MaxContextTokens int

	// GenerationTimeout bounds one model call.
	GenerationTimeout time.Duration

	// MaxConcurrentGenerations bounds in-flight model calls.
	MaxConcurrentGenerations int64
}

// Request is one question against the index.
type Request struct {
	Question string            `json:"question"`
	Filters  map[string]string `json:"filters,omitempty"`
	TopK     int               `json:"top_k,omitempty"` // 0 means the configured default
}

// Citation points at a passage the answer is grounded in.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Table      string  `json:"table"`
	Key        string  `json:"key"`
	Score      float32 `json:"score"`
}

// Retrieved is one raw search hit, in descending similarity order, recorded
// before the floor is applied. It shows what the engine saw even when the
// answer is "insufficient grounded data".
type Retrieved struct {
	DocumentID string            `json:"document_id"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Answer is the query result. Text is empty unless Status is StatusOK.
type Answer struct {
	Status    Status      `json:"status"`
	Text      string      `json:"answer,omitempty"`
	Citations []Citation  `json:"citations,omitempty"`
	Retrieved []Retrieved `json:"retrieved"`
}

// Engine wires the query path: embed the question, search the store, gate on
// the similarity floor, generate from the surviving passages.
type Engine struct {
	embedder  embed.TextEmbedder
	searcher  store.Searcher
	generator Generator
	cfg       Config
	sem       *semaphore.Weighted
	logger    log.Logger
}

// NewEngine creates an Engine.
func NewEngine(embedder embed.TextEmbedder, searcher store.Searcher, generator Generator, cfg Config, logger log.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 2048
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = 4
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		embedder:  embedder,
		searcher:  searcher,
		generator: generator,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentGenerations),
		logger:    logger,
	}
}

// Query answers one question. Outcomes that are properties of the data or
// the model (nothing relevant indexed, generation too slow) come back as
// typed statuses, not errors.
func (e *Engine) Query(ctx context.Context, req Request) (Answer, error) {
	if req.Question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	vector, err := e.embedder.Embed(ctx, req.Question)
	if err != nil {
		return Answer{}, fmt.Errorf("embedding question: %w", err)
	}

	results, err := e.searcher.Search(ctx, vector, topK, req.Filters)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	retrieved := make([]Retrieved, 0, len(results))
	for _, r := range results {
		retrieved = append(retrieved, Retrieved{
			DocumentID: r.ID,
			Score:      r.Score,
			Metadata:   r.Metadata,
		})
	}

	passages := e.admit(results)
	if len(passages) == 0 {
		e.logger.Debug("no passage cleared similarity floor",
			"retrieved", len(results), "threshold", e.cfg.SimilarityThreshold)
		return Answer{Status: StatusInsufficientData, Retrieved: retrieved}, nil
	}

	citations := make([]Citation, 0, len(passages))
	for _, p := range passages {
		table, key, err := store.SplitID(p.ID)
		if err != nil {
			return Answer{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		citations = append(citations, Citation{
			DocumentID: p.ID,
			Table:      table,
			Key:        key,
			Score:      p.Score,
		})
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Answer{}, err
	}
	defer e.sem.Release(1)

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	text, err := e.generator.Generate(genCtx, buildPrompt(req.Question, passages))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn("generation timed out", "passages", len(passages))
			return Answer{
				Status:    StatusGenerationTimeout,
				Citations: citations,
				Retrieved: retrieved,
			}, nil
		}
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	return Answer{
		Status:    StatusOK,
		Text:      text,
		Citations: citations,
		Retrieved: retrieved,
	}, nil
}

// admit applies the similarity floor, deduplicates by document id, and trims
// to the context token budget. Results arrive sorted by similarity, so the
// first occurrence of an id is its best score.
func (e *Engine) admit(results []store.Result) []store.Result {
	seen := make(map[string]struct{}, len(results))
	budget := e.cfg.MaxContextTokens

	var passages []store.Result
	for _, r := range results {
		if float64(r.Score) < e.cfg.SimilarityThreshold {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}

		cost := approxTokens(r.Content)
		if len(passages) > 0 && cost > budget {
			break
		}
		budget -= cost
		passages = append(passages, r)
	}
	return passages
}

// approxTokens estimates the token count of a passage. Four characters per
// token is the usual rough cut for English text.
func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
