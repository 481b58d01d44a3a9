package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StagePageListed    Stage = "PAGE_LISTED"
	StageItemStart     Stage = "ITEM_START"
	StageItemSkipped   Stage = "ITEM_SKIPPED"
	StageItemDone      Stage = "ITEM_DONE"
	StageItemError     Stage = "ITEM_ERROR"
	StageManifestLine  Stage = "MANIFEST_LINE"
	StageManifestDone  Stage = "MANIFEST_DONE"
	StageUnitFetched   Stage = "UNIT_FETCHED"
	StageUnitFailed    Stage = "UNIT_FAILED"
	StageBatchArchived Stage = "BATCH_ARCHIVED"
	StageBatchFailed   Stage = "BATCH_FAILED"
)

// Event is one progress milestone.
type Event struct {
	// RunID identifies the process invocation.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Scope is the tag for crawl events and the source root label for compaction.
	Scope string
	// Item is the item title or archive unit path.
	Item string
	// Category is "imgs" or "videos" for manifest stages.
	Category string
	URL      string
	// Count is the running position within Total (manifest lines, page numbers,
	// batch sizes).
	Count int
	Total int
	Dur   time.Duration
	Note  string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StagePageListed, StageBatchArchived, StageBatchFailed:
	case StageItemStart, StageItemSkipped, StageItemDone, StageItemError, StageUnitFetched, StageUnitFailed:
		if e.Item == "" {
			return fmt.Errorf("%s requires item", e.Stage)
		}
	case StageManifestLine, StageManifestDone:
		if e.Item == "" || e.Category == "" {
			return fmt.Errorf("%s requires item and category", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
