// Package worker implements the per-identifier crawl pipeline: pace, fetch
// with retries, extract, normalize. Workers report results on a channel and
// never touch the record store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/vinmonopol-crawler/internal/worker")

// Deps bundles the pipeline stages a Worker drives.
type Deps struct {
	Queue      crawler.Queue
	Fetcher    crawler.Fetcher
	Extractor  crawler.Extractor
	Normalizer crawler.Normalizer
	Pacer      crawler.Pacer
	Retry      crawler.RetryPolicy
	// Pauser defaults to crawler.TimerPauser.
	Pauser crawler.Pauser
}

// Worker consumes identifiers from the queue until it is closed and drained.
type Worker struct {
	id       int
	paceKey  string
	deps     Deps
	results  chan<- crawler.Result
	logger   *zap.Logger
	observer func(crawler.ProductID, crawler.ItemState)
}

// New constructs worker number id sending to results.
func New(id int, deps Deps, results chan<- crawler.Result, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	return &Worker{
		id:      id,
		paceKey: fmt.Sprintf("worker-%d", id),
		deps:    deps,
		results: results,
		logger:  logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// OnTransition registers fn to observe non-terminal state changes
// (fetching, extracting, normalizing). It must be set before Run.
func (w *Worker) OnTransition(fn func(crawler.ProductID, crawler.ItemState)) {
	w.observer = fn
}

// Run blocks, processing identifiers until the queue is drained or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		id, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		res := w.Process(ctx, id)
		if ctx.Err() != nil {
			// Work interrupted by cancellation is not reported.
			return
		}
		select {
		case w.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// Process runs the full pipeline for one identifier and returns its terminal
// result.
func (w *Worker) Process(ctx context.Context, id crawler.ProductID) crawler.Result {
	start := time.Now()
	res := crawler.Result{ID: id}
	ctx, span := tracer.Start(ctx, "crawl.item", trace.WithAttributes(
		attribute.String("product.id", id.String()),
		attribute.Int("worker", w.id),
	))
	defer func() {
		metrics.ObserveItem(string(res.State))
		span.SetAttributes(
			attribute.String("item.state", string(res.State)),
			attribute.Int("item.attempts", res.Attempts),
		)
		if res.State == crawler.StateFailed && res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "item failed")
		}
		span.End()
	}()

	w.transition(id, crawler.StateFetching)
	page, attempts, err := w.fetch(ctx, id)
	res.Attempts = attempts
	if err != nil {
		return w.finish(res, start, err)
	}

	w.transition(id, crawler.StateExtracting)
	extraction := w.deps.Extractor.Extract(page)
	if !extraction.Found() {
		err := fmt.Errorf("%w: %s", crawler.ErrExtractionAbsent, extraction.Reason)
		return w.finish(res, start, err)
	}

	w.transition(id, crawler.StateNormalizing)
	rec, err := w.deps.Normalizer.Normalize(*extraction.Draft)
	if err != nil {
		return w.finish(res, start, err)
	}
	res.Record = &rec
	return w.finish(res, start, nil)
}

// finish stamps the terminal state implied by err onto res and logs it.
func (w *Worker) finish(res crawler.Result, start time.Time, err error) crawler.Result {
	state := crawler.Classify(err)
	res.State = state
	res.Err = err
	res.Duration = time.Since(start)
	fields := []zap.Field{
		zap.String("product_id", res.ID.String()),
		zap.String("state", string(state)),
		zap.Int("attempts", res.Attempts),
		zap.Duration("dur", res.Duration),
	}
	switch state {
	case crawler.StateFailed:
		w.logger.Warn("item failed", append(fields, zap.Error(err))...)
	case crawler.StateSkipped:
		w.logger.Debug("item skipped", append(fields, zap.Error(err))...)
	default:
		w.logger.Debug("item processed", fields...)
	}
	return res
}

// fetch paces and fetches id, retrying per the retry policy. It returns the
// number of attempts made.
func (w *Worker) fetch(ctx context.Context, id crawler.ProductID) (crawler.RawPage, int, error) {
	for attempt := 1; ; attempt++ {
		if err := w.deps.Pacer.Wait(ctx, w.paceKey); err != nil {
			return crawler.RawPage{}, attempt - 1, err
		}
		page, err := w.deps.Fetcher.Fetch(ctx, id)
		if err == nil {
			return page, attempt, nil
		}
		if w.deps.Retry == nil || !w.deps.Retry.ShouldRetry(err, attempt) {
			return crawler.RawPage{}, attempt, err
		}
		delay := w.deps.Retry.Backoff(attempt)
		metrics.ObserveRetry()
		w.logger.Debug("retrying fetch",
			zap.String("product_id", id.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := w.deps.Pauser.Pause(ctx, delay); err != nil {
			return crawler.RawPage{}, attempt, fmt.Errorf("retry backoff: %w", err)
		}
	}
}

func (w *Worker) transition(id crawler.ProductID, state crawler.ItemState) {
	if w.observer != nil {
		w.observer(id, state)
	}
}
