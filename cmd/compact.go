package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediaharvest/internal/compactor"
	"github.com/JakeFAU/mediaharvest/internal/config"
	"github.com/JakeFAU/mediaharvest/internal/hash/sha256"
	"github.com/JakeFAU/mediaharvest/internal/progress"
	"github.com/JakeFAU/mediaharvest/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/mediaharvest/internal/publisher/pubsub"
	"github.com/JakeFAU/mediaharvest/internal/storage/gcs"
	"github.com/JakeFAU/mediaharvest/internal/storage/local"
	"github.com/JakeFAU/mediaharvest/internal/storage/postgres"
	"github.com/JakeFAU/mediaharvest/internal/toolexec"
)

// newCompactCmd creates the 'compact' subcommand.
func newCompactCmd(cfgFile *string) *cobra.Command {
	var chunkBound int
	cmd := &cobra.Command{
		Use:   "compact <sourceRoot> <archiveOutputDir>",
		Short: "Retrieve manifests and pack finished items into uploaded batches",
		Long: `Scans sourceRoot for imgs/info.txt and videos/info.txt manifests, runs the
download tool in each manifest directory, and every chunk-bound items writes
<prefix>_<root>_<start>-<end>.tar.gz into archiveOutputDir, removes the
archived item directories, and uploads the archive.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			var override func(*config.Config)
			if cmd.Flags().Changed("chunk-bound") {
				override = func(c *config.Config) { c.Compactor.ChunkBound = chunkBound }
			}
			return runCompact(cmd.Context(), *cfgFile, args[0], args[1], override)
		},
	}
	cmd.Flags().IntVar(&chunkBound, "chunk-bound", compactor.DefaultChunkBound, "archive units per batch")
	return cmd
}

func runCompact(ctx context.Context, cfgFile, sourceRoot, outputDir string, override func(*config.Config)) error {
	env, err := newRunEnv(cfgFile, "compact", override)
	if err != nil {
		return err
	}
	defer env.sync()
	cfg := env.cfg
	logger := env.logger.With(zap.String("root", sourceRoot))

	hub, tally, reporter, err := env.newProgress()
	if err != nil {
		return err
	}
	defer env.closeProgress(ctx, hub)

	ops, stopOps := env.startOps(ctx, func() any { return tally.Snapshot() })
	defer stopOps()

	uploader, closeUploader, err := buildUploader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUploader()

	ledger, closeLedger := buildLedger(ctx, cfg, outputDir, logger)
	defer closeLedger()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	archiver, err := compactor.New(compactor.Config{
		ChunkBound: cfg.Compactor.ChunkBound,
		UnitDelay:  cfg.Compactor.UnitDelay,
		Prefix:     cfg.Compactor.ArchivePrefix,
		OutputDir:  outputDir,
	}, compactor.Options{
		Retriever: toolexec.Wget{
			Binary:         cfg.Fetch.Binary,
			Retries:        cfg.Fetch.Retries,
			TimeoutSeconds: cfg.Fetch.TimeoutSeconds,
		},
		Archiver: toolexec.Tar{Binary: cfg.Archive.Binary},
		Uploader: uploader,
		Ledger:   ledger,
		Notifier: notifier,
		Hasher:   sha256.New(),
		Reporter: reporter,
		Logger:   logger.Named("compactor"),
		Now:      env.clock.Func(),
	})
	if err != nil {
		return fmt.Errorf("init compactor: %w", err)
	}
	ops.SetReady(true)

	started := time.Now()
	label := archiver.Label(sourceRoot)
	reporter.Report(progress.Event{Stage: progress.StageRunStart, Scope: label, Note: outputDir})

	res, runErr := archiver.Run(ctx, sourceRoot)

	reporter.Report(progress.Event{
		Stage: progress.StageRunDone,
		Scope: label,
		Count: len(res.Batches),
		Total: len(res.Batches) + res.BatchFailures,
		Dur:   time.Since(started),
	})
	logger.Info("Compaction finished",
		zap.String("label", res.Label),
		zap.Int("fetched", res.Fetched),
		zap.Int("fetch_failures", res.FetchFailures),
		zap.Int("skipped", res.Skipped),
		zap.Int("batches", len(res.Batches)),
		zap.Int("batch_failures", res.BatchFailures),
		zap.Duration("elapsed", time.Since(started)),
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("compact %s: %w", sourceRoot, runErr)
	}
	if runErr != nil {
		logger.Warn("Compaction interrupted; pending units were archived", zap.Error(runErr))
	}
	return nil
}

func buildUploader(ctx context.Context, cfg config.Config, logger *zap.Logger) (compactor.Uploader, func(), error) {
	switch cfg.Upload.Backend {
	case config.UploadCommand:
		return toolexec.CommandUploader{Argv: cfg.Upload.Command, RemotePath: cfg.Upload.RemotePath}, func() {}, nil
	case config.UploadGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		up, err := gcs.New(client, gcs.Config{Bucket: cfg.Upload.GCSBucket, Prefix: cfg.Upload.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs uploader: %w", err)
		}
		return up, func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", zap.Error(err))
			}
		}, nil
	default:
		logger.Info("Upload disabled; archives stay in the output directory")
		return nil, func() {}, nil
	}
}

// buildLedger opens the configured ledger. A ledger that cannot be opened
// degrades to in-process numbering from 0 instead of failing the run.
func buildLedger(ctx context.Context, cfg config.Config, outputDir string, logger *zap.Logger) (compactor.Ledger, func()) {
	switch cfg.Compactor.Ledger {
	case config.LedgerFile:
		l, err := local.New(local.Config{BaseDir: outputDir})
		if err != nil {
			logger.Warn("File ledger unavailable; numbering batches from 0", zap.Error(err))
			return compactor.NopLedger{}, func() {}
		}
		if aside := l.Quarantined(); aside != "" {
			logger.Warn("Ledger file was corrupt; moved aside and starting empty",
				zap.String("path", l.Path()), zap.String("moved_to", aside))
		}
		logger.Debug("Using file ledger", zap.String("path", l.Path()))
		return l, func() {}
	case config.LedgerPostgres:
		l, err := postgres.NewLedger(ctx, postgres.LedgerConfig{DSN: cfg.DB.DSN})
		if err != nil {
			logger.Warn("Postgres ledger unavailable; numbering batches from 0", zap.Error(err))
			return compactor.NopLedger{}, func() {}
		}
		return l, l.Close
	default:
		return compactor.NopLedger{}, func() {}
	}
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (compactor.Notifier, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := publisher.NewNotifier(pub, cfg.PubSub.TopicName)
	if err != nil {
		_ = pub.Close()
		return nil, nil, err
	}
	return notifier, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("Failed to close pubsub publisher", zap.Error(err))
		}
	}, nil
}
