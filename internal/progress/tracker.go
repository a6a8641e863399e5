package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Run states reported in snapshots.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Tracker folds events into the Snapshot of the most recent run. It is a Sink
// and a Source, so the status server can read what the Hub delivers.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns a Tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle}}
}

// Snapshot implements Source.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Consume implements Sink.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt Event) {
	runID := uuid.UUID(evt.RunID).String()
	if evt.Stage == StageRunStart {
		t.snap = Snapshot{
			RunID:     runID,
			State:     StateRunning,
			Resume:    evt.Resume,
			StartedAt: evt.TS,
			Total:     evt.Total,
		}
		return
	}
	if runID != t.snap.RunID {
		return
	}
	switch evt.Stage {
	case StageItemDone:
		t.snap.Processed++
		switch evt.ItemState {
		case "saved":
			t.snap.Saved++
		case "skipped":
			t.snap.Skipped++
		default:
			t.snap.Failed++
		}
	case StageCheckpoint:
		t.snap.Records = evt.Records
	case StageRunDone:
		t.snap.State = StateCompleted
		t.snap.Records = evt.Records
	case StageRunError:
		t.snap.State = StateFailed
	}
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}
