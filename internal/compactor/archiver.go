package compactor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediaharvest/internal/crawler"
	"github.com/JakeFAU/mediaharvest/internal/metrics"
	"github.com/JakeFAU/mediaharvest/internal/progress"
)

// DefaultChunkBound is the number of archive units per batch.
const DefaultChunkBound = 40

// Config controls batching.
type Config struct {
	// ChunkBound is the pending size that triggers compaction.
	ChunkBound int
	// UnitDelay follows every fetch unit, successful or not.
	UnitDelay time.Duration
	// Prefix is prepended to the root's base name to form the batch label.
	Prefix string
	// OutputDir receives the archives; created on demand.
	OutputDir string
}

// Options carries the capabilities BatchArchiver drives. Retriever and
// Archiver are required.
type Options struct {
	Retriever Retriever
	Archiver  Archiver
	Uploader  Uploader
	Ledger    Ledger
	Notifier  Notifier
	Hasher    Hasher
	Pauser    Pauser
	Reporter  progress.Reporter
	Logger    *zap.Logger
	// RemoveAll deletes an archived unit; os.RemoveAll when nil.
	RemoveAll func(path string) error
	Now       func() time.Time
}

// Result summarizes one Run.
type Result struct {
	Label         string
	Fetched       int
	FetchFailures int
	Skipped       int
	Batches       []Batch
	BatchFailures int
}

// BatchArchiver accumulates fetched archive units and compacts them in
// bounded batches. A BatchArchiver is not safe for concurrent Runs.
type BatchArchiver struct {
	cfg  Config
	opts Options

	label     string
	start     int
	end       int
	pending   []string
	inPending map[string]struct{}
	result    Result
}

// New validates cfg and opts and returns a BatchArchiver.
func New(cfg Config, opts Options) (*BatchArchiver, error) {
	if opts.Retriever == nil || opts.Archiver == nil {
		return nil, errors.New("compactor: retriever and archiver are required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("compactor: output dir is required")
	}
	if cfg.ChunkBound <= 0 {
		cfg.ChunkBound = DefaultChunkBound
	}
	if opts.Ledger == nil {
		opts.Ledger = NopLedger{}
	}
	if opts.Pauser == nil {
		opts.Pauser = crawler.TimerPauser{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RemoveAll == nil {
		opts.RemoveAll = os.RemoveAll
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &BatchArchiver{cfg: cfg, opts: opts}, nil
}

// Label returns the batch label used for root.
func (b *BatchArchiver) Label(root string) string {
	base := filepath.Base(filepath.Clean(root))
	if b.cfg.Prefix == "" {
		return base
	}
	return b.cfg.Prefix + "_" + base
}

// Run scans root, retrieves each fetch unit, and compacts completed archive
// units every ChunkBound units plus once more when the scan is exhausted.
// Cancellation stops the scan between units; whatever is pending is still
// compacted before Run returns ctx's error.
func (b *BatchArchiver) Run(ctx context.Context, root string) (Result, error) {
	// Ledger keys are unit paths, so they must not depend on the working directory.
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	b.label = b.Label(root)
	b.pending = nil
	b.inPending = make(map[string]struct{})
	b.result = Result{Label: b.label}
	logger := b.opts.Logger.With(zap.String("root", root), zap.String("label", b.label))

	start, err := b.opts.Ledger.NextIndex(ctx, b.label)
	if err != nil {
		logger.Warn("Ledger unavailable; numbering batches from 0", zap.Error(err))
		start = 0
	}
	b.start, b.end = start, start
	logger.Info("Starting compaction", zap.Int("start_index", b.start), zap.Int("chunk_bound", b.cfg.ChunkBound))

	var runErr error
	for g := range groups(Scan(root)) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		b.handleGroup(ctx, logger, g)
		if len(b.pending) >= b.cfg.ChunkBound {
			b.compact(ctx, logger)
		}
	}

	b.compact(context.WithoutCancel(ctx), logger)
	logger.Info("Compaction finished",
		zap.Int("fetched", b.result.Fetched),
		zap.Int("fetch_failures", b.result.FetchFailures),
		zap.Int("skipped", b.result.Skipped),
		zap.Int("batches", len(b.result.Batches)),
		zap.Int("batch_failures", b.result.BatchFailures),
	)
	return b.result, runErr
}

func (b *BatchArchiver) handleGroup(ctx context.Context, logger *zap.Logger, g group) {
	if _, dup := b.inPending[g.archiveDir]; dup {
		logger.Debug("Archive unit already pending", zap.String("unit", g.archiveDir))
		return
	}
	archived, err := b.opts.Ledger.IsArchived(ctx, b.label, g.archiveDir)
	if err != nil {
		logger.Warn("Ledger lookup failed; treating unit as new", zap.String("unit", g.archiveDir), zap.Error(err))
	}
	if archived {
		// A later pull recreated the directory; its media is already in an archive.
		logger.Info("Unit already archived; removing re-crawled copy", zap.String("unit", g.archiveDir))
		if err := b.opts.RemoveAll(g.archiveDir); err != nil {
			logger.Error("Failed to remove archived unit", zap.String("unit", g.archiveDir), zap.Error(err))
		}
		metrics.ObserveUnit("skipped")
		b.result.Skipped++
		return
	}

	ok := true
	for _, dir := range g.fetchDirs {
		if err := b.opts.Retriever.Retrieve(ctx, dir); err != nil {
			ok = false
			logger.Error("Retrieval failed", zap.String("fetch_unit", dir), zap.Error(err))
			metrics.ObserveUnit("error")
			b.opts.Reporter.Report(progress.Event{Stage: progress.StageUnitFailed, Scope: b.label, Item: dir, Note: err.Error()})
		} else {
			metrics.ObserveUnit("ok")
			b.opts.Reporter.Report(progress.Event{Stage: progress.StageUnitFetched, Scope: b.label, Item: dir})
		}
		b.opts.Pauser.Pause(ctx, b.cfg.UnitDelay)
	}
	if !ok {
		b.result.FetchFailures++
		return
	}

	b.pending = append(b.pending, g.archiveDir)
	b.inPending[g.archiveDir] = struct{}{}
	b.end++
	b.result.Fetched++
	metrics.SetPending(len(b.pending))
}

// compact archives everything pending. pending is cleared whatever the
// outcome; indices only advance on success.
func (b *BatchArchiver) compact(ctx context.Context, logger *zap.Logger) {
	if len(b.pending) == 0 {
		return
	}
	units := append([]string(nil), b.pending...)
	b.pending = b.pending[:0]
	clear(b.inPending)
	metrics.SetPending(0)

	name := ArchiveName(b.label, b.start, b.end)
	archivePath := filepath.Join(b.cfg.OutputDir, name)
	logger = logger.With(zap.String("archive", archivePath), zap.Int("units", len(units)))

	if err := b.archive(ctx, archivePath, units); err != nil {
		logger.Warn("Compaction failed; sources left in place", zap.Error(err))
		metrics.ObserveBatch("error")
		b.result.BatchFailures++
		b.opts.Reporter.Report(progress.Event{Stage: progress.StageBatchFailed, Scope: b.label, Item: name, Count: len(units), Note: err.Error()})
		return
	}

	for _, unit := range units {
		if err := b.opts.RemoveAll(unit); err != nil {
			logger.Error("Failed to remove archived unit", zap.String("unit", unit), zap.Error(err))
		}
	}

	batch := Batch{
		Label:     b.label,
		Start:     b.start,
		End:       b.end,
		Archive:   archivePath,
		Units:     units,
		CreatedAt: b.opts.Now(),
	}
	if err := b.opts.Ledger.RecordBatch(ctx, batch); err != nil {
		logger.Warn("Failed to record batch in ledger", zap.Error(err))
	}
	b.start = b.end
	b.result.Batches = append(b.result.Batches, batch)
	metrics.ObserveBatch("ok")
	b.opts.Reporter.Report(progress.Event{Stage: progress.StageBatchArchived, Scope: b.label, Item: name, Count: len(units)})
	logger.Info("Archived batch", zap.Int("start", batch.Start), zap.Int("end", batch.End))

	b.upload(ctx, logger, batch)
}

func (b *BatchArchiver) archive(ctx context.Context, archivePath string, units []string) error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := b.opts.Archiver.Archive(ctx, archivePath, units); err != nil {
		_ = os.Remove(archivePath)
		return err
	}
	return nil
}

func (b *BatchArchiver) upload(ctx context.Context, logger *zap.Logger, batch Batch) {
	if b.opts.Uploader == nil {
		return
	}
	if err := b.opts.Uploader.Upload(ctx, batch.Archive); err != nil {
		logger.Error("Upload failed; archive kept locally", zap.Error(err))
		metrics.ObserveUpload("error")
		return
	}
	metrics.ObserveUpload("ok")
	logger.Info("Uploaded batch")

	if b.opts.Notifier == nil {
		return
	}
	msg := BatchUploaded{
		Label:      batch.Label,
		Start:      batch.Start,
		End:        batch.End,
		Archive:    filepath.Base(batch.Archive),
		Units:      batch.Units,
		UploadedAt: b.opts.Now(),
	}
	if b.opts.Hasher != nil {
		sum, err := b.opts.Hasher.HashFile(batch.Archive)
		if err != nil {
			logger.Warn("Failed to digest archive", zap.Error(err))
		}
		msg.SHA256 = sum
	}
	if err := b.opts.Notifier.BatchUploaded(ctx, msg); err != nil {
		logger.Warn("Failed to publish upload notification", zap.Error(err))
	}
}
