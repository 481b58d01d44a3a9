package sinks

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/mediaharvest/internal/progress"
)

// Tally is the collapsed view of a run's progress events.
type Tally struct {
	ItemsDone     int
	ItemsSkipped  int
	ItemsFailed   int
	PagesListed   int
	ManifestLines map[string]int
	UnitsFetched  int
	UnitsFailed   int
	Batches       int
	BatchFailures int
}

// Categories returns the manifest categories seen, sorted.
func (t Tally) Categories() []string {
	out := make([]string, 0, len(t.ManifestLines))
	for k := range t.ManifestLines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TallySink keeps running per-stage and per-category counters in memory so a
// command can print a summary when it finishes.
type TallySink struct {
	mu    sync.Mutex
	tally Tally
}

// NewTallySink returns an empty TallySink.
func NewTallySink() *TallySink {
	return &TallySink{tally: Tally{ManifestLines: make(map[string]int)}}
}

// Consume folds batch into the counters.
func (s *TallySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageListed:
			s.tally.PagesListed++
		case progress.StageItemDone:
			s.tally.ItemsDone++
		case progress.StageItemSkipped:
			s.tally.ItemsSkipped++
		case progress.StageItemError:
			s.tally.ItemsFailed++
		case progress.StageManifestLine:
			s.tally.ManifestLines[evt.Category]++
		case progress.StageUnitFetched:
			s.tally.UnitsFetched++
		case progress.StageUnitFailed:
			s.tally.UnitsFailed++
		case progress.StageBatchArchived:
			s.tally.Batches++
		case progress.StageBatchFailed:
			s.tally.BatchFailures++
		}
	}
	return nil
}

// Snapshot returns a copy of the current counters.
func (s *TallySink) Snapshot() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tally
	out.ManifestLines = make(map[string]int, len(s.tally.ManifestLines))
	for k, v := range s.tally.ManifestLines {
		out.ManifestLines[k] = v
	}
	return out
}

// Close implements progress.Sink.
func (s *TallySink) Close(context.Context) error {
	return nil
}
