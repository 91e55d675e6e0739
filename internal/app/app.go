// Package app provides application initialization and dependency wiring.
//
// App is the shared core used by both commands: the connection pool, the
// Genkit instance with the configured AI provider, and the embedder. The
// serve command builds the query engine on top of it; the consume command
// builds the ingestion pipeline.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biolink/semindex/internal/config"
	"github.com/biolink/semindex/internal/embed"
	"github.com/biolink/semindex/internal/log"
	"github.com/biolink/semindex/internal/rag"
	"github.com/biolink/semindex/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Store    *store.Postgres

	otelCleanup func()
	cancel      context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// Engine builds the query engine over the shared store and embedder.
func (a *App) Engine() *rag.Engine {
	cfg := a.Config
	generator := rag.NewGenkitGenerator(a.Genkit, cfg.ModelName, float64(cfg.Temperature), cfg.RAG.MaxAnswerTokens)
	return rag.NewEngine(
		embed.NewDirect(a.Embedder, cfg.EmbeddingDim),
		a.Store,
		generator,
		rag.Config{
			TopK:                     cfg.RAG.TopK,
			SimilarityThreshold:      float64(cfg.RAG.SimilarityThreshold),
			MaxContextTokens:         cfg.RAG.MaxContextTokens,
			GenerationTimeout:        time.Duration(cfg.RAG.GenerationTimeoutMs) * time.Millisecond,
			MaxConcurrentGenerations: int64(cfg.RAG.MaxConcurrentGens),
		},
		a.Logger,
	)
}
