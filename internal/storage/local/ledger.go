// Package local implements a compaction ledger stored as a JSON file next to
// the archives it describes.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/mediaharvest/internal/compactor"
)

// FileName is the ledger file created inside the archive output directory.
const FileName = ".compact-ledger.json"

// Config captures the parameters for the file ledger.
type Config struct {
	// BaseDir is the archive output directory.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

type batchRecord struct {
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Archive   string    `json:"archive"`
	Units     []string  `json:"units"`
	CreatedAt time.Time `json:"created_at"`
}

type rootState struct {
	NextIndex int               `json:"next_index"`
	Archived  map[string]string `json:"archived"`
	Batches   []batchRecord     `json:"batches"`
}

type document struct {
	Roots map[string]*rootState `json:"roots"`
}

// Ledger persists compaction progress per batch label.
type Ledger struct {
	mu          sync.Mutex
	path        string
	quarantined string
	doc         document
}

// New opens (or starts) the ledger under cfg.BaseDir. A missing file is an
// empty ledger. A file that does not decode is renamed aside (see
// Quarantined) and the ledger starts empty. Only a file that cannot be read
// or moved is an error.
func New(cfg Config) (*Ledger, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	l := &Ledger{
		path: filepath.Join(cfg.BaseDir, FileName),
		doc:  document{Roots: map[string]*rootState{}},
	}
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}
	if err := json.Unmarshal(data, &l.doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", l.path, time.Now().UnixNano())
		if rerr := os.Rename(l.path, aside); rerr != nil {
			return nil, fmt.Errorf("decode ledger %s: %w (move aside: %w)", l.path, err, rerr)
		}
		l.quarantined = aside
		l.doc = document{}
	}
	if l.doc.Roots == nil {
		l.doc.Roots = map[string]*rootState{}
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Quarantined returns where an undecodable ledger file was moved by New, or
// "" when the file was fine.
func (l *Ledger) Quarantined() string { return l.quarantined }

// NextIndex implements compactor.Ledger.
func (l *Ledger) NextIndex(_ context.Context, label string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.doc.Roots[label]; ok {
		return st.NextIndex, nil
	}
	return 0, nil
}

// IsArchived implements compactor.Ledger.
func (l *Ledger) IsArchived(_ context.Context, label, unit string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.doc.Roots[label]
	if !ok {
		return false, nil
	}
	_, archived := st.Archived[unit]
	return archived, nil
}

// RecordBatch implements compactor.Ledger. The file is rewritten atomically.
func (l *Ledger) RecordBatch(_ context.Context, b compactor.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.doc.Roots[b.Label]
	if !ok {
		st = &rootState{Archived: map[string]string{}}
		l.doc.Roots[b.Label] = st
	}
	if st.Archived == nil {
		st.Archived = map[string]string{}
	}
	archive := filepath.Base(b.Archive)
	for _, u := range b.Units {
		st.Archived[u] = archive
	}
	st.Batches = append(st.Batches, batchRecord{
		Start:     b.Start,
		End:       b.End,
		Archive:   archive,
		Units:     append([]string(nil), b.Units...),
		CreatedAt: b.CreatedAt,
	})
	if b.End > st.NextIndex {
		st.NextIndex = b.End
	}
	return l.save()
}

func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".compact-ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", l.path, err)
	}
	return nil
}
