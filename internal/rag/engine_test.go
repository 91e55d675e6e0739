package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/biolink/semindex/internal/store"
)

// cannedEmbedder maps known texts to fixed vectors, so similarity in these
// tests is controlled, not approximated.
type cannedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (c *cannedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	if v, ok := c.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

// scriptedGenerator returns a fixed answer, optionally after a delay.
type scriptedGenerator struct {
	answer string
	delay  time.Duration
	err    error

	gotPrompt string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.gotPrompt = prompt
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

// failingSearcher simulates a vector store outage.
type failingSearcher struct{}

func (failingSearcher) Search(context.Context, []float32, int, map[string]string) ([]store.Result, error) {
	return nil, errors.New("connection refused")
}

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	docs := []store.Document{
		{ID: "patients:42", Table: "patients", Key: "42", Content: "acute chest pain radiating to left arm",
			Vector: []float32{1, 0, 0}, Metadata: map[string]string{"table": "patients"}, SourceVersion: 1},
		{ID: "patients:7", Table: "patients", Key: "7", Content: "chronic heart failure, EF thirty percent",
			Vector: []float32{0.9, 0.2, 0}, Metadata: map[string]string{"table": "patients"}, SourceVersion: 1},
		{ID: "diagnoses:3", Table: "diagnoses", Key: "3", Content: "seasonal allergies, mild",
			Vector: []float32{0, 1, 0}, Metadata: map[string]string{"table": "diagnoses"}, SourceVersion: 1},
	}
	for _, d := range docs {
		if _, err := m.Upsert(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func newTestEngine(t *testing.T, searcher store.Searcher, gen Generator, cfg Config) *Engine {
	t.Helper()
	embedder := &cannedEmbedder{vectors: map[string][]float32{
		"which patients reported chest pain?": {1, 0, 0},
		"any history of heart failure?":       {0.95, 0.1, 0},
		"what is the weather like today?":     {0, 0, 1},
	}}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.55
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = time.Second
	}
	return NewEngine(embedder, searcher, gen, cfg, nil)
}

func TestQuery_GroundedAnswerWithCitations(t *testing.T) {
	gen := &scriptedGenerator{answer: "Patient 42 reported acute chest pain."}
	engine := newTestEngine(t, seedStore(t), gen, Config{TopK: 5})

	answer, err := engine.Query(context.Background(), Request{Question: "which patients reported chest pain?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Status != StatusOK {
		t.Fatalf("Status = %v, want %v", answer.Status, StatusOK)
	}
	if answer.Text == "" {
		t.Error("empty answer text")
	}
	if len(answer.Citations) == 0 {
		t.Fatal("no citations")
	}
	if answer.Citations[0].DocumentID != "patients:42" {
		t.Errorf("top citation = %q, want patients:42", answer.Citations[0].DocumentID)
	}
	if answer.Citations[0].Table != "patients" || answer.Citations[0].Key != "42" {
		t.Errorf("citation = %+v", answer.Citations[0])
	}

	// The retrieved list reports every hit in similarity order, floor or not,
	// with its score and metadata.
	if len(answer.Retrieved) != 3 {
		t.Fatalf("Retrieved = %d hits, want 3", len(answer.Retrieved))
	}
	if answer.Retrieved[0].DocumentID != "patients:42" {
		t.Errorf("Retrieved[0] = %q, want patients:42", answer.Retrieved[0].DocumentID)
	}
	for i := 1; i < len(answer.Retrieved); i++ {
		if answer.Retrieved[i].Score > answer.Retrieved[i-1].Score {
			t.Errorf("retrieved hits out of order at %d: %+v", i, answer.Retrieved)
		}
	}
	if answer.Retrieved[0].Metadata["table"] != "patients" {
		t.Errorf("Retrieved[0].Metadata = %v", answer.Retrieved[0].Metadata)
	}

	// Irrelevant passages must not be handed to the generator.
	if strings.Contains(gen.gotPrompt, "seasonal allergies") {
		t.Error("prompt contains passage below the similarity floor")
	}
	if !strings.Contains(gen.gotPrompt, "acute chest pain") {
		t.Error("prompt is missing the grounding passage")
	}
	if !strings.Contains(gen.gotPrompt, "which patients reported chest pain?") {
		t.Error("prompt is missing the question")
	}
}

func TestQuery_InsufficientGroundedData(t *testing.T) {
	gen := &scriptedGenerator{answer: "should never be called"}
	engine := newTestEngine(t, seedStore(t), gen, Config{TopK: 5})

	answer, err := engine.Query(context.Background(), Request{Question: "what is the weather like today?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Status != StatusInsufficientData {
		t.Errorf("Status = %v, want %v", answer.Status, StatusInsufficientData)
	}
	if answer.Text != "" {
		t.Errorf("Text = %q, want empty", answer.Text)
	}
	// The caller can still see what was retrieved and why it was rejected.
	if len(answer.Retrieved) == 0 {
		t.Error("insufficient-data answer hides the retrieved hits")
	}
	if gen.gotPrompt != "" {
		t.Error("generator was called despite no grounded passages")
	}
}

func TestQuery_EmptyIndexMeansInsufficientData(t *testing.T) {
	gen := &scriptedGenerator{answer: "nope"}
	engine := newTestEngine(t, store.NewMemory(), gen, Config{TopK: 5})

	answer, err := engine.Query(context.Background(), Request{Question: "any history of heart failure?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Status != StatusInsufficientData {
		t.Errorf("Status = %v, want %v", answer.Status, StatusInsufficientData)
	}
}

func TestQuery_GenerationTimeoutReturnsCitations(t *testing.T) {
	gen := &scriptedGenerator{answer: "too late", delay: time.Second}
	engine := newTestEngine(t, seedStore(t), gen, Config{
		TopK:              5,
		GenerationTimeout: 20 * time.Millisecond,
	})

	answer, err := engine.Query(context.Background(), Request{Question: "which patients reported chest pain?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Status != StatusGenerationTimeout {
		t.Fatalf("Status = %v, want %v", answer.Status, StatusGenerationTimeout)
	}
	if answer.Text != "" {
		t.Errorf("Text = %q, want empty", answer.Text)
	}
	if len(answer.Citations) == 0 {
		t.Error("timeout result lost its citations")
	}
}

func TestQuery_StoreUnavailableFailsClosed(t *testing.T) {
	gen := &scriptedGenerator{answer: "must not generate"}
	engine := newTestEngine(t, failingSearcher{}, gen, Config{TopK: 5})

	_, err := engine.Query(context.Background(), Request{Question: "any history of heart failure?"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Query() = %v, want ErrUnavailable", err)
	}
	if gen.gotPrompt != "" {
		t.Error("generator was called during store outage")
	}
}

func TestQuery_EmptyQuestion(t *testing.T) {
	engine := newTestEngine(t, seedStore(t), &scriptedGenerator{}, Config{})

	_, err := engine.Query(context.Background(), Request{Question: ""})
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("Query() = %v, want ErrEmptyQuestion", err)
	}
}

func TestQuery_TopKOverride(t *testing.T) {
	gen := &scriptedGenerator{answer: "ok"}
	engine := newTestEngine(t, seedStore(t), gen, Config{TopK: 5})

	answer, err := engine.Query(context.Background(), Request{
		Question: "which patients reported chest pain?",
		TopK:     1,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(answer.Retrieved) != 1 {
		t.Errorf("Retrieved = %d hits, want 1", len(answer.Retrieved))
	}
	if len(answer.Citations) != 1 {
		t.Errorf("citations = %d, want 1", len(answer.Citations))
	}
}

func TestQuery_MetadataFilter(t *testing.T) {
	gen := &scriptedGenerator{answer: "ok"}
	engine := newTestEngine(t, seedStore(t), gen, Config{TopK: 5})

	answer, err := engine.Query(context.Background(), Request{
		Question: "which patients reported chest pain?",
		Filters:  map[string]string{"table": "patients"},
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, c := range answer.Citations {
		if c.Table != "patients" {
			t.Errorf("filter leaked citation %+v", c)
		}
	}
}

func TestAdmit_ContextBudget(t *testing.T) {
	long := strings.Repeat("w ", 600) // ~300 tokens
	engine := NewEngine(nil, nil, nil, Config{
		SimilarityThreshold: 0.5,
		MaxContextTokens:    100,
	}, nil)

	results := []store.Result{
		{ID: "patients:1", Content: long, Score: 0.95},
		{ID: "patients:2", Content: long, Score: 0.90},
	}

	passages := engine.admit(results)
	if len(passages) != 1 {
		t.Fatalf("admit() = %d passages, want 1 (budget exhausted)", len(passages))
	}
	// The best passage is always admitted, even over budget.
	if passages[0].ID != "patients:1" {
		t.Errorf("kept %q, want patients:1", passages[0].ID)
	}
}

func TestAdmit_DedupesByID(t *testing.T) {
	engine := NewEngine(nil, nil, nil, Config{SimilarityThreshold: 0.5}, nil)

	results := []store.Result{
		{ID: "patients:1", Content: "a", Score: 0.9},
		{ID: "patients:1", Content: "a", Score: 0.8},
		{ID: "patients:2", Content: "b", Score: 0.7},
	}

	passages := engine.admit(results)
	if len(passages) != 2 {
		t.Fatalf("admit() = %d passages, want 2", len(passages))
	}
	if passages[0].Score != 0.9 {
		t.Error("dedupe did not keep the best-scoring occurrence")
	}
}
