// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.semindex/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model and dimension
//   - Storage: PostgreSQL connection (see storage.go)
//   - RAG: retrieval depth, similarity threshold, context budget
//   - Pipeline: partition polling, batching, retry policy, checkpoint path
//   - Extract: embeddable free-text columns per source table
//
// Security: sensitive data (passwords) are never logged; see MarshalJSON.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the retrieval depth is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrNoTextFields indicates no embeddable columns are configured.
	ErrNoTextFields = errors.New("no text fields configured")

	// ErrInvalidPipeline indicates a pipeline tuning value is out of range.
	ErrInvalidPipeline = errors.New("invalid pipeline setting")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 returns 3072 dimensions natively; vectors are
	// truncated and renormalized to embedding_dim before storage.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultEmbeddingDim is the vector dimension stored in pgvector.
	DefaultEmbeddingDim = 768

	// DefaultSimilarityThreshold is the floor below which retrieved documents
	// are considered ungrounded and discarded.
	DefaultSimilarityThreshold = 0.55
)

// RAGConfig tunes the query engine.
type RAGConfig struct {
	TopK                int     `mapstructure:"top_k" json:"top_k"`
	SimilarityThreshold float32 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	MaxContextTokens    int     `mapstructure:"max_context_tokens" json:"max_context_tokens"`
	MaxAnswerTokens     int     `mapstructure:"max_answer_tokens" json:"max_answer_tokens"`
	GenerationTimeoutMs int     `mapstructure:"generation_timeout_ms" json:"generation_timeout_ms"`
	MaxConcurrentGens   int     `mapstructure:"max_concurrent_generations" json:"max_concurrent_generations"`
}

// PipelineConfig tunes the CDC ingestion pipeline.
type PipelineConfig struct {
	PollIntervalMs     int    `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	BatchSize          int    `mapstructure:"batch_size" json:"batch_size"`
	EmbedBatchSize     int    `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedBatchWindowMs int    `mapstructure:"embed_batch_window_ms" json:"embed_batch_window_ms"`
	EmbedRateLimit     int    `mapstructure:"embed_rate_limit" json:"embed_rate_limit"`
	MaxRetries         int    `mapstructure:"max_retries" json:"max_retries"`
	BackoffBaseMs      int    `mapstructure:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffCapMs       int    `mapstructure:"backoff_cap_ms" json:"backoff_cap_ms"`
	CheckpointPath     string `mapstructure:"checkpoint_path" json:"checkpoint_path"`
	LockPath           string `mapstructure:"lock_path" json:"lock_path"`
}

// TracingConfig configures OTLP trace export to a local agent.
type TracingConfig struct {
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"` // "gemini" (default) or "ollama"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDim  int     `mapstructure:"embedding_dim" json:"embedding_dim"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embeddable free-text columns per source table. Keys are source table
	// names, values are column names concatenated in order by the extractor.
	TextFields map[string][]string `mapstructure:"text_fields" json:"text_fields"`

	RAG      RAGConfig      `mapstructure:"rag" json:"rag"`
	Pipeline PipelineConfig `mapstructure:"pipeline" json:"pipeline"`
	Tracing  TracingConfig  `mapstructure:"tracing" json:"tracing"`

	// Query API listen address (serve mode only)
	APIAddr string `mapstructure:"api_addr" json:"api_addr"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".semindex")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("embedding_dim", DefaultEmbeddingDim)
	viper.SetDefault("temperature", 0.0)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "semindex")
	viper.SetDefault("postgres_password", "semindex_dev_password")
	viper.SetDefault("postgres_db_name", "semindex")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Extractor defaults: free-text columns per source table.
	// Experiment-stage parameters, override per deployment.
	viper.SetDefault("text_fields", map[string][]string{
		"patients":  {"notes", "history"},
		"diagnoses": {"description", "notes"},
	})

	// RAG defaults
	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.similarity_threshold", DefaultSimilarityThreshold)
	viper.SetDefault("rag.max_context_tokens", 2048)
	viper.SetDefault("rag.max_answer_tokens", 1024)
	viper.SetDefault("rag.generation_timeout_ms", 30000)
	viper.SetDefault("rag.max_concurrent_generations", 4)

	// Pipeline defaults
	viper.SetDefault("pipeline.poll_interval_ms", 500)
	viper.SetDefault("pipeline.batch_size", 64)
	viper.SetDefault("pipeline.embed_batch_size", 16)
	viper.SetDefault("pipeline.embed_batch_window_ms", 20)
	viper.SetDefault("pipeline.embed_rate_limit", 10)
	viper.SetDefault("pipeline.max_retries", 5)
	viper.SetDefault("pipeline.backoff_base_ms", 100)
	viper.SetDefault("pipeline.backoff_cap_ms", 30000)
	viper.SetDefault("pipeline.checkpoint_path", "")
	viper.SetDefault("pipeline.lock_path", "")

	// Tracing defaults
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.service_name", "semindex")
	viper.SetDefault("tracing.environment", "dev")

	// API defaults
	viper.SetDefault("api_addr", "127.0.0.1:3500")
}

// bindEnvVariables binds runtime-override environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "SEMINDEX_PROVIDER")
	mustBind("model_name", "SEMINDEX_MODEL_NAME")
	mustBind("embedder_model", "SEMINDEX_EMBEDDER_MODEL")
	mustBind("ollama_host", "SEMINDEX_OLLAMA_HOST")
	mustBind("api_addr", "SEMINDEX_API_ADDR")
	mustBind("rag.similarity_threshold", "SEMINDEX_SIMILARITY_THRESHOLD")
	mustBind("pipeline.checkpoint_path", "SEMINDEX_CHECKPOINT_PATH")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters for longer secrets, fully masks short ones.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
