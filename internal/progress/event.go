package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageItemDone   Stage = "ITEM_DONE"
	StageCheckpoint Stage = "CHECKPOINT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event captures one step of crawl progress.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage

	// ProductID and ItemState describe the identifier an ITEM_DONE event
	// reports on. ItemState is one of saved, skipped or failed.
	ProductID string
	ItemState string
	Attempts  int

	// Total is the number of identifiers scheduled in the run (RUN_START).
	Total int
	// Resume marks a run that continued from an existing store (RUN_START).
	Resume bool
	// Records is the store size after a checkpoint (CHECKPOINT, RUN_DONE).
	Records int

	// Dur is the item or run latency.
	Dur time.Duration
	// Note carries low-volume context such as the error text.
	Note string
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
	case StageRunStart:
		if e.Total < 0 {
			return errors.New("run start requires total >= 0")
		}
	case StageItemDone:
		if e.ProductID == "" {
			return errors.New("item done requires product id")
		}
		if e.ItemState == "" {
			return errors.New("item done requires item state")
		}
	case StageCheckpoint, StageRunDone, StageRunError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run id to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
