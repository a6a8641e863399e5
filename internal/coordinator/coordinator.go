// Package coordinator runs a crawl: it plans the identifiers, drives a fixed
// pool of workers and is the only writer of the record store.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/logging"
	"github.com/JakeFAU/vinmonopol-crawler/internal/metrics"
	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
	"github.com/JakeFAU/vinmonopol-crawler/internal/queue/memory"
	"github.com/JakeFAU/vinmonopol-crawler/internal/worker"
)

var tracer = otel.Tracer("github.com/JakeFAU/vinmonopol-crawler/internal/coordinator")

// Config controls checkpointing and the persistence retry loop.
type Config struct {
	// CheckpointEvery rewrites the store after this many saved records.
	CheckpointEvery int
	// RetryDelay separates failed checkpoint attempts.
	RetryDelay time.Duration
	// MaxWriteAttempts bounds checkpoint attempts before the run halts.
	MaxWriteAttempts int
}

const (
	defaultCheckpointEvery  = 1
	defaultRetryDelay       = 10 * time.Second
	defaultMaxWriteAttempts = 5
	mirrorTimeout           = 30 * time.Second
)

// Deps are the collaborators of a Coordinator. Mirror and Progress are
// optional.
type Deps struct {
	Store    crawler.RecordStore
	Pipeline worker.Deps
	Mirror   crawler.Mirror
	Progress progress.Emitter
	Clock    crawler.Clock
	IDs      crawler.IDGenerator
	// Pauser defaults to crawler.TimerPauser.
	Pauser crawler.Pauser
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID      string
	Resumed    bool
	Total      int
	Saved      int
	Skipped    int
	Failed     int
	Records    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Processed is the number of identifiers that reached a terminal state.
func (s Summary) Processed() int {
	return s.Saved + s.Skipped + s.Failed
}

// Coordinator owns one crawl run at a time.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	state atomic.Int32
	items sync.Map // crawler.ProductID -> crawler.ItemState
}

// New validates deps and applies config defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("coordinator: record store is required")
	}
	if deps.Pipeline.Fetcher == nil || deps.Pipeline.Extractor == nil || deps.Pipeline.Normalizer == nil {
		return nil, errors.New("coordinator: fetcher, extractor and normalizer are required")
	}
	if deps.Pipeline.Pacer == nil {
		return nil, errors.New("coordinator: pacer is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("coordinator: clock and id generator are required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxWriteAttempts <= 0 {
		cfg.MaxWriteAttempts = defaultMaxWriteAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, deps: deps, logger: logger.Named("coordinator")}, nil
}

// State returns the current run state. Safe for concurrent use.
func (c *Coordinator) State() RunState {
	return RunState(c.state.Load())
}

// ItemState reports the latest known state of id in the current run.
func (c *Coordinator) ItemState(id crawler.ProductID) (crawler.ItemState, bool) {
	v, ok := c.items.Load(id)
	if !ok {
		return "", false
	}
	return v.(crawler.ItemState), true
}

// run carries the mutable state of one Run call. Only the coordinator
// goroutine touches it.
type run struct {
	id          uuid.UUID
	logger      *zap.Logger
	summary     Summary
	unsaved     []product.Record
	unmirrored  []product.Record
	sinceCkpt   int
	lastRecords int
}

// Run crawls ids with the given number of workers. In resume mode the store
// is loaded first and the run continues after the last stored record. The
// store is checkpointed as results arrive and once more before Run returns.
// A checkpoint that keeps failing halts the run with a
// *crawler.PersistenceError; cancellation checkpoints what was collected and
// returns ctx.Err().
func (c *Coordinator) Run(
	ctx context.Context,
	ids []crawler.ProductID,
	workers int,
	resume bool,
) (summary Summary, err error) {
	if workers <= 0 {
		return Summary{}, fmt.Errorf("coordinator: workers must be positive, got %d", workers)
	}
	ctx, span := tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.Bool("crawl.resume", resume),
		attribute.Int("crawl.workers", workers),
		attribute.Int("crawl.identifiers", len(ids)),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("crawl.run_id", summary.RunID),
			attribute.Int("crawl.saved", summary.Saved),
			attribute.Int("crawl.records", summary.Records),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	c.state.Store(int32(StateInitializing))
	c.items.Clear()
	defer c.state.Store(int32(StateCompleted))

	r, pending, err := c.prepare(ctx, ids, resume)
	if err != nil {
		return Summary{}, err
	}

	queue := memory.NewQueue(len(pending))
	for _, id := range pending {
		c.items.Store(id, crawler.StatePending)
		if err := queue.Enqueue(ctx, id); err != nil {
			return r.summary, c.fail(r, err)
		}
	}
	queue.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	results := c.startWorkers(workerCtx, queue, workers, r.logger)
	c.state.Store(int32(StateRunning))

	var runErr error
	for res := range results {
		if runErr != nil {
			continue
		}
		if err := c.handle(ctx, r, res); err != nil {
			runErr = err
			stopWorkers()
		}
	}
	c.state.Store(int32(StateDraining))

	if runErr != nil {
		return c.finish(r), c.fail(r, runErr)
	}
	if err := c.checkpoint(ctx, r); err != nil {
		return c.finish(r), c.fail(r, err)
	}
	summary = c.finish(r)
	if err := ctx.Err(); err != nil {
		return summary, c.fail(r, err)
	}
	c.deps.Progress.Emit(progress.Event{
		RunID:   progress.UUIDToBytes(r.id),
		TS:      c.now(),
		Stage:   progress.StageRunDone,
		Records: summary.Records,
		Dur:     summary.FinishedAt.Sub(summary.StartedAt),
	})
	r.logger.Info("crawl finished",
		zap.Int("saved", summary.Saved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("records", summary.Records),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (c *Coordinator) prepare(ctx context.Context, ids []crawler.ProductID, resume bool) (*run, []crawler.ProductID, error) {
	rawID, err := c.deps.IDs.NewID()
	if err != nil {
		return nil, nil, err
	}
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, nil, fmt.Errorf("parse run id %q: %w", rawID, err)
	}
	logger := logging.ForRun(c.logger, runID.String())

	var stored []product.Record
	if resume {
		stored, err = c.deps.Store.Load(ctx)
		if err != nil {
			return nil, nil, err
		}
	} else {
		c.deps.Store.Reset()
	}
	pending, err := Plan(ids, stored, resume)
	if err != nil {
		return nil, nil, err
	}

	r := &run{
		id:          runID,
		logger:      logger,
		lastRecords: c.deps.Store.Len(),
		summary: Summary{
			RunID:     runID.String(),
			Resumed:   resume,
			Total:     len(pending),
			StartedAt: c.now(),
		},
	}
	c.deps.Progress.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(runID),
		TS:     r.summary.StartedAt,
		Stage:  progress.StageRunStart,
		Total:  len(pending),
		Resume: resume,
	})
	logger.Info("crawl started",
		zap.Bool("resume", resume),
		zap.Int("identifiers", len(ids)),
		zap.Int("pending", len(pending)),
		zap.Int("stored", len(stored)),
	)
	return r, pending, nil
}

func (c *Coordinator) startWorkers(
	ctx context.Context,
	queue crawler.Queue,
	n int,
	logger *zap.Logger,
) <-chan crawler.Result {
	results := make(chan crawler.Result, n)
	deps := c.deps.Pipeline
	deps.Queue = queue
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := worker.New(i, deps, results, logger)
		w.OnTransition(func(id crawler.ProductID, state crawler.ItemState) {
			c.items.Store(id, state)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// handle applies one worker result. It is only called from the coordinator
// goroutine, which makes it the single writer of the store.
func (c *Coordinator) handle(ctx context.Context, r *run, res crawler.Result) error {
	c.items.Store(res.ID, res.State)
	note := ""
	switch res.State {
	case crawler.StateSaved:
		r.summary.Saved++
	case crawler.StateSkipped:
		r.summary.Skipped++
	default:
		r.summary.Failed++
	}
	if res.Err != nil {
		note = res.Err.Error()
	}
	c.deps.Progress.Emit(progress.Event{
		RunID:     progress.UUIDToBytes(r.id),
		TS:        c.now(),
		Stage:     progress.StageItemDone,
		ProductID: res.ID.String(),
		ItemState: string(res.State),
		Attempts:  res.Attempts,
		Dur:       res.Duration,
		Note:      note,
	})
	if res.State != crawler.StateSaved || res.Record == nil {
		return nil
	}

	c.deps.Store.Put(*res.Record)
	r.unsaved = append(r.unsaved, *res.Record)
	r.sinceCkpt++
	if r.sinceCkpt < c.cfg.CheckpointEvery {
		return nil
	}
	return c.checkpoint(ctx, r)
}

// checkpoint rewrites the store, retrying after RetryDelay. The write itself
// is not canceled with ctx, so records collected before a cancellation are
// kept; only the wait between attempts is. Records not yet persisted are
// logged on every failure so they can be recovered by hand.
func (c *Coordinator) checkpoint(ctx context.Context, r *run) error {
	writeCtx := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxWriteAttempts; attempt++ {
		err := c.deps.Store.Checkpoint(writeCtx)
		records := c.deps.Store.Len()
		metrics.ObserveCheckpoint(records, err)
		if err == nil {
			c.afterCheckpoint(writeCtx, r, records)
			return nil
		}
		lastErr = err
		r.logger.Error("checkpoint failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxWriteAttempts),
			zap.Strings("unsaved_records", encodeForRecovery(r.unsaved)),
			zap.Error(err),
		)
		if attempt == c.cfg.MaxWriteAttempts {
			break
		}
		if err := c.deps.Pauser.Pause(ctx, c.cfg.RetryDelay); err != nil {
			return &crawler.PersistenceError{Path: c.storePath(), Attempts: attempt, Err: lastErr}
		}
	}
	return &crawler.PersistenceError{Path: c.storePath(), Attempts: c.cfg.MaxWriteAttempts, Err: lastErr}
}

func (c *Coordinator) afterCheckpoint(ctx context.Context, r *run, records int) {
	r.lastRecords = records
	r.sinceCkpt = 0
	r.unmirrored = append(r.unmirrored, r.unsaved...)
	r.unsaved = r.unsaved[:0]
	c.deps.Progress.Emit(progress.Event{
		RunID:   progress.UUIDToBytes(r.id),
		TS:      c.now(),
		Stage:   progress.StageCheckpoint,
		Records: records,
	})
	if c.deps.Mirror == nil || len(r.unmirrored) == 0 {
		r.unmirrored = r.unmirrored[:0]
		return
	}
	batch := r.unmirrored
	mirrorCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	err := c.deps.Mirror.Upsert(mirrorCtx, batch)
	metrics.ObserveMirror(len(batch), err)
	if err != nil {
		// The JSON store stays authoritative; the batch is retried with the
		// next checkpoint.
		r.logger.Warn("mirror upsert failed", zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	r.unmirrored = nil
}

func (c *Coordinator) finish(r *run) Summary {
	r.summary.Records = r.lastRecords
	r.summary.FinishedAt = c.now()
	return r.summary
}

func (c *Coordinator) fail(r *run, err error) error {
	c.deps.Progress.Emit(progress.Event{
		RunID: progress.UUIDToBytes(r.id),
		TS:    c.now(),
		Stage: progress.StageRunError,
		Note:  err.Error(),
	})
	r.logger.Error("crawl halted", zap.Error(err))
	return err
}

func (c *Coordinator) storePath() string {
	if p, ok := c.deps.Store.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

func (c *Coordinator) now() time.Time {
	return c.deps.Clock.Now().UTC()
}

func encodeForRecovery(records []product.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			out = append(out, fmt.Sprintf("unencodable record %s: %v", rec.Code, err))
			continue
		}
		out = append(out, string(data))
	}
	return out
}
