package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
	"github.com/JakeFAU/vinmonopol-crawler/internal/store"
)

// StoreSink persists run progress through a store.RunRepository. Item events
// are collapsed into one counts delta per run and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type itemDelta struct {
	counts store.ItemCounts
	at     time.Time
}

// Consume implements progress.Sink. Milestones are written in order; pending
// item deltas are flushed before any milestone of the same run so counts
// land before the run is marked finished.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*itemDelta)
	for _, evt := range batch {
		runID := evt.RunUUID()
		if evt.Stage == progress.StageItemDone {
			addItem(deltas, runID, evt)
			continue
		}
		if err := s.flushDelta(ctx, deltas, runID); err != nil {
			return err
		}
		if err := s.milestone(ctx, runID, evt); err != nil {
			return err
		}
	}
	for runID := range deltas {
		if err := s.flushDelta(ctx, deltas, runID); err != nil {
			return err
		}
	}
	return nil
}

func addItem(deltas map[uuid.UUID]*itemDelta, runID uuid.UUID, evt progress.Event) {
	d := deltas[runID]
	if d == nil {
		d = &itemDelta{}
		deltas[runID] = d
	}
	switch evt.ItemState {
	case "saved":
		d.counts.Saved++
	case "skipped":
		d.counts.Skipped++
	default:
		d.counts.Failed++
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

func (s *StoreSink) flushDelta(ctx context.Context, deltas map[uuid.UUID]*itemDelta, runID uuid.UUID) error {
	d, ok := deltas[runID]
	if !ok {
		return nil
	}
	delete(deltas, runID)
	if d.counts.IsZero() {
		return nil
	}
	if err := s.repo.AddItems(ctx, runID, d.counts, d.at); err != nil {
		return fmt.Errorf("add run items: %w", err)
	}
	return nil
}

func (s *StoreSink) milestone(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TS, evt.Resume, evt.Total); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageCheckpoint:
		if err := s.repo.SetRecords(ctx, runID, evt.Records, evt.TS); err != nil {
			return fmt.Errorf("set run records: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.SetRecords(ctx, runID, evt.Records, evt.TS); err != nil {
			return fmt.Errorf("set run records: %w", err)
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	s.logger.Debug("run milestone persisted",
		zap.String("run_id", runID.String()),
		zap.String("stage", string(evt.Stage)),
	)
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
