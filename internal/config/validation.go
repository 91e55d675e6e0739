package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the PostgreSQL SSL modes accepted by pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate performs fail-fast validation of the full configuration.
// Returns sentinel errors wrapped with context for errors.Is() checks.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDim < 8 || c.EmbeddingDim > 8192 {
		return fmt.Errorf("%w: %d (expected 8..8192)", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateRAG(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}

	if len(c.TextFields) == 0 {
		return fmt.Errorf("%w: text_fields must name at least one source table", ErrNoTextFields)
	}
	for table, fields := range c.TextFields {
		if len(fields) == 0 {
			return fmt.Errorf("%w: table %q has no columns", ErrNoTextFields, table)
		}
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

func (c *Config) validateRAG() error {
	if c.RAG.TopK < 1 || c.RAG.TopK > 100 {
		return fmt.Errorf("%w: %d (expected 1..100)", ErrInvalidTopK, c.RAG.TopK)
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v (expected 0..1)", ErrInvalidThreshold, c.RAG.SimilarityThreshold)
	}
	if c.RAG.MaxContextTokens < 64 {
		return fmt.Errorf("%w: max_context_tokens %d too small", ErrInvalidPipeline, c.RAG.MaxContextTokens)
	}
	if c.RAG.GenerationTimeoutMs < 100 {
		return fmt.Errorf("%w: generation_timeout_ms %d too small", ErrInvalidPipeline, c.RAG.GenerationTimeoutMs)
	}
	if c.RAG.MaxConcurrentGens < 1 {
		return fmt.Errorf("%w: max_concurrent_generations must be >= 1", ErrInvalidPipeline)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1", ErrInvalidPipeline)
	}
	if p.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: embed_batch_size must be >= 1", ErrInvalidPipeline)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidPipeline)
	}
	if p.BackoffBaseMs < 1 || p.BackoffCapMs < p.BackoffBaseMs {
		return fmt.Errorf("%w: backoff base %dms / cap %dms", ErrInvalidPipeline, p.BackoffBaseMs, p.BackoffCapMs)
	}
	return nil
}
