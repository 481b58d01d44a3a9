package compactor

import (
	"context"
	"fmt"
	"time"
)

// Retriever downloads every URL listed in dir's manifest into dir.
type Retriever interface {
	Retrieve(ctx context.Context, dir string) error
}

// Archiver writes a compressed archive at archivePath containing sources.
type Archiver interface {
	Archive(ctx context.Context, archivePath string, sources []string) error
}

// Uploader ships a finished archive to remote storage.
type Uploader interface {
	Upload(ctx context.Context, archivePath string) error
}

// Ledger remembers compaction progress for a root across runs.
type Ledger interface {
	// NextIndex returns the first batch index for a new run over label.
	NextIndex(ctx context.Context, label string) (int, error)
	// IsArchived reports whether unit already went out in a successful batch.
	IsArchived(ctx context.Context, label, unit string) (bool, error)
	// RecordBatch stores a successfully archived batch.
	RecordBatch(ctx context.Context, batch Batch) error
}

// Notifier announces uploaded batches.
type Notifier interface {
	BatchUploaded(ctx context.Context, msg BatchUploaded) error
}

// Hasher digests an archive file for the upload notification.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Pauser sleeps between scan results.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Batch is a successfully archived set of units covering [Start, End).
type Batch struct {
	Label     string
	Start     int
	End       int
	Archive   string
	Units     []string
	CreatedAt time.Time
}

// BatchUploaded is the notification payload published after an upload.
type BatchUploaded struct {
	Label      string    `json:"label"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Archive    string    `json:"archive"`
	Units      []string  `json:"units"`
	UploadedAt time.Time `json:"uploaded_at"`
	SHA256     string    `json:"sha256,omitempty"`
}

// ArchiveName builds the batch file name for label and [start, end).
func ArchiveName(label string, start, end int) string {
	return fmt.Sprintf("%s_%d-%d.tar.gz", label, start, end)
}

// NopLedger keeps no state: every run starts at index 0.
type NopLedger struct{}

// NextIndex implements Ledger.
func (NopLedger) NextIndex(context.Context, string) (int, error) { return 0, nil }

// IsArchived implements Ledger.
func (NopLedger) IsArchived(context.Context, string, string) (bool, error) { return false, nil }

// RecordBatch implements Ledger.
func (NopLedger) RecordBatch(context.Context, Batch) error { return nil }
