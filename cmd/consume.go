package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/biolink/semindex/internal/app"
	"github.com/biolink/semindex/internal/cdc"
	"github.com/biolink/semindex/internal/config"
	"github.com/biolink/semindex/internal/embed"
	"github.com/biolink/semindex/internal/extract"
	"github.com/biolink/semindex/internal/offset"
	"github.com/biolink/semindex/internal/pipeline"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the indexing pipeline",
	Long: `consume tails the registry change stream and keeps the vector index
synchronized: extract text, embed, write, commit the offset. A file lock
guarantees a single instance; partition offsets survive restarts in a local
checkpoint file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsume()
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func runConsume() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := newLogger()
	logger.Info("starting indexing pipeline", "version", AppVersion)

	// Two consumers would race on partition offsets; refuse to start a second.
	lockPath, err := statePath(cfg.Pipeline.LockPath, "consume.lock")
	if err != nil {
		return err
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring consumer lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another consume instance holds %s", lockPath)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			logger.Warn("releasing consumer lock", "error", unlockErr)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	checkpointPath, err := statePath(cfg.Pipeline.CheckpointPath, "offsets.db")
	if err != nil {
		return err
	}
	tracker, err := offset.NewBolt(checkpointPath)
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer func() {
		if closeErr := tracker.Close(); closeErr != nil {
			logger.Warn("closing checkpoint", "error", closeErr)
		}
	}()

	batcher := embed.NewBatcher(embed.NewModel(a.Embedder, cfg.EmbeddingDim), embed.BatcherConfig{
		MaxBatch:  cfg.Pipeline.EmbedBatchSize,
		Window:    time.Duration(cfg.Pipeline.EmbedBatchWindowMs) * time.Millisecond,
		RateLimit: cfg.Pipeline.EmbedRateLimit,
	}, logger.With("component", "batcher"))

	pipe := pipeline.New(
		pipeline.Deps{
			Source:      cdc.NewPostgresSource(a.DBPool),
			Extractor:   extract.New(cfg.TextFields),
			Embedder:    embed.NewCache(batcher, logger.With("component", "cache")),
			Writer:      a.Store,
			Offsets:     tracker,
			DeadLetters: cdc.NewPostgresSink(a.DBPool),
		},
		pipeline.Config{
			PollInterval: time.Duration(cfg.Pipeline.PollIntervalMs) * time.Millisecond,
			BatchSize:    cfg.Pipeline.BatchSize,
			MaxRetries:   cfg.Pipeline.MaxRetries,
			BackoffBase:  time.Duration(cfg.Pipeline.BackoffBaseMs) * time.Millisecond,
			BackoffCap:   time.Duration(cfg.Pipeline.BackoffCapMs) * time.Millisecond,
		},
		logger.With("component", "pipeline"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		batcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return pipe.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("indexing pipeline stopped")
	return nil
}

// statePath resolves a state file location: the configured path when set,
// otherwise name under ~/.semindex (created if missing).
func statePath(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".semindex")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}
