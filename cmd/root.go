// Package cmd defines the harvest CLI: `pull` crawls a tag into per-item
// manifests and `compact` retrieves, archives, and uploads them in batches.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediaharvest/internal/api"
	"github.com/JakeFAU/mediaharvest/internal/clock/system"
	"github.com/JakeFAU/mediaharvest/internal/config"
	"github.com/JakeFAU/mediaharvest/internal/id/uuid"
	"github.com/JakeFAU/mediaharvest/internal/logging"
	"github.com/JakeFAU/mediaharvest/internal/metrics"
	"github.com/JakeFAU/mediaharvest/internal/progress"
	"github.com/JakeFAU/mediaharvest/internal/progress/sinks"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Crawl a gallery site into manifests and compact the downloads into archives.",
		Long: `harvest has two independent stages that share only the filesystem.

pull walks a tag's listing pages with an authenticated session and writes one
manifest of media URLs per item and category. compact scans a pull output tree,
retrieves every manifest with an external download tool, and packs finished
items into numbered tar.gz batches that are uploaded and then removed.`,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVEST_* env vars override it")

	cmd.AddCommand(newPullCmd(&cfgFile))
	cmd.AddCommand(newCompactCmd(&cfgFile))

	return cmd
}

// Execute runs the CLI with a context canceled by SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// runEnv is what every subcommand builds before doing work.
type runEnv struct {
	cfg    config.Config
	logger *zap.Logger
	base   *zap.Logger
	runID  [16]byte
	clock  *system.Clock
}

// newRunEnv loads config, builds the run-scoped logger, and initializes metrics.
// override may adjust cfg before validation.
func newRunEnv(cfgFile, command string, override func(*config.Config)) (*runEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate flags: %w", err)
		}
	}

	base, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	raw, runID, err := uuid.New().NewRunID()
	if err != nil {
		return nil, err
	}

	metrics.Init()

	return &runEnv{
		cfg:    cfg,
		base:   base,
		logger: logging.ForRun(base, command, runID),
		runID:  progress.UUIDToBytes(raw),
		clock:  system.New(),
	}, nil
}

// sync flushes the logger; stdout sync errors are ignored.
func (e *runEnv) sync() {
	_ = e.base.Sync()
}

var (
	promSinkOnce sync.Once
	promSink     *sinks.PrometheusSink
	promSinkErr  error
)

// progressMetrics registers the progress collectors once per process.
func progressMetrics() (*sinks.PrometheusSink, error) {
	promSinkOnce.Do(func() {
		promSink, promSinkErr = sinks.NewPrometheusSink(nil)
	})
	return promSink, promSinkErr
}

// newProgress starts a hub feeding the log, Prometheus, and tally sinks.
func (e *runEnv) newProgress() (*progress.Hub, *sinks.TallySink, progress.Reporter, error) {
	sink, err := progressMetrics()
	if err != nil {
		return nil, nil, progress.Reporter{}, fmt.Errorf("init progress metrics: %w", err)
	}
	tally := sinks.NewTallySink()
	hub := progress.NewHub(
		progress.Config{Logger: e.logger.Named("progress")},
		sinks.NewLogSink(e.logger.Named("progress")),
		sink,
		tally,
	)
	reporter := progress.Reporter{RunID: e.runID, Emitter: hub, Now: e.clock.Func()}
	return hub, tally, reporter, nil
}

// closeProgress drains the hub even when ctx is already canceled.
func (e *runEnv) closeProgress(ctx context.Context, hub *progress.Hub) {
	if err := hub.Close(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("Failed to flush progress events", zap.Error(err))
	}
}

// startOps launches the ops server when metrics.listen_addr is set. The
// returned stop func shuts it down and waits for it.
func (e *runEnv) startOps(ctx context.Context, status api.StatusFunc) (*api.Server, func()) {
	srv := api.NewServer(api.Options{Logger: e.logger.Named("api"), Status: status})
	if e.cfg.Metrics.ListenAddr == "" {
		return srv, func() {}
	}

	opsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(opsCtx, e.cfg.Metrics.ListenAddr); err != nil {
			e.logger.Warn("Ops server stopped", zap.Error(err))
		}
	}()
	return srv, func() {
		cancel()
		<-done
	}
}
