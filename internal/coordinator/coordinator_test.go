package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	uuidgen "github.com/JakeFAU/vinmonopol-crawler/internal/id/uuid"
	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
	"github.com/JakeFAU/vinmonopol-crawler/internal/storage/local"
	"github.com/JakeFAU/vinmonopol-crawler/internal/worker"
)

var fetchedAt = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return fetchedAt }

type noPacer struct{}

func (noPacer) Wait(context.Context, string) error { return nil }

type stubFetcher struct {
	mu      sync.Mutex
	calls   []crawler.ProductID
	failing map[crawler.ProductID]bool
	onFetch func(crawler.ProductID)
}

func (f *stubFetcher) Fetch(ctx context.Context, id crawler.ProductID) (crawler.RawPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.onFetch
	failing := f.failing[id]
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err := ctx.Err(); err != nil {
		return crawler.RawPage{}, &crawler.TransportError{URL: string(id), Err: err}
	}
	if failing {
		return crawler.RawPage{}, &crawler.HTTPStatusError{URL: string(id), StatusCode: 404}
	}
	return crawler.RawPage{ID: id, URL: "https://www.vinmonopolet.no/p/" + string(id), StatusCode: 200}, nil
}

func (f *stubFetcher) Calls() []crawler.ProductID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.ProductID(nil), f.calls...)
}

type stubExtractor struct {
	skip map[crawler.ProductID]bool
}

func (e stubExtractor) Extract(page crawler.RawPage) crawler.Extraction {
	if e.skip[page.ID] {
		return crawler.Extraction{Kind: crawler.KindNotAProduct, Reason: "no offer"}
	}
	return crawler.Extraction{Kind: crawler.KindProduct, Draft: &product.Draft{Code: string(page.ID), PageURL: page.URL}}
}

// versionedNormalizer names each record after how often its code was seen,
// so replacements are observable.
type versionedNormalizer struct {
	mu   sync.Mutex
	seen map[string]int
}

func (n *versionedNormalizer) Normalize(d product.Draft) (product.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen == nil {
		n.seen = map[string]int{}
	}
	n.seen[d.Code]++
	return product.Record{
		SchemaVersion: product.SchemaVersion,
		Code:          d.Code,
		Name:          fmt.Sprintf("Product %s v%d", d.Code, n.seen[d.Code]),
		URL:           d.PageURL,
		Price:         100,
		Currency:      "NOK",
		Size:          "75 cl",
		VolumeLiters:  0.75,
		FetchedAt:     fetchedAt,
	}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Stage
	for _, evt := range e.events {
		if evt.Stage != progress.StageItemDone {
			out = append(out, evt.Stage)
		}
	}
	return out
}

type recordingMirror struct {
	mu      sync.Mutex
	batches [][]string
	failN   int
}

func (m *recordingMirror) Upsert(_ context.Context, records []product.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("connection refused")
	}
	codes := make([]string, 0, len(records))
	for _, rec := range records {
		codes = append(codes, rec.Code)
	}
	m.batches = append(m.batches, codes)
	return nil
}

type noWaitPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *noWaitPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
	return ctx.Err()
}

type harness struct {
	fetcher *stubFetcher
	emitter *recordingEmitter
	mirror  *recordingMirror
	pauser  *noWaitPauser
	deps    Deps
}

func newHarness(store crawler.RecordStore) *harness {
	h := &harness{
		fetcher: &stubFetcher{},
		emitter: &recordingEmitter{},
		mirror:  &recordingMirror{},
		pauser:  &noWaitPauser{},
	}
	h.deps = Deps{
		Store: store,
		Pipeline: worker.Deps{
			Fetcher:    h.fetcher,
			Extractor:  stubExtractor{},
			Normalizer: &versionedNormalizer{},
			Pacer:      noPacer{},
			Retry:      crawler.NewExponentialRetryPolicy(1, time.Millisecond, time.Millisecond),
			Pauser:     h.pauser,
		},
		Mirror:   h.mirror,
		Progress: h.emitter,
		Clock:    fixedClock{},
		IDs:      uuidgen.New(),
		Pauser:   h.pauser,
	}
	return h
}

func ids(codes ...string) []crawler.ProductID {
	out := make([]crawler.ProductID, len(codes))
	for i, c := range codes {
		out[i] = crawler.ProductID(c)
	}
	return out
}

func storedCodes(t *testing.T, path string) []string {
	t.Helper()
	store, err := local.New(local.Config{Path: path})
	require.NoError(t, err)
	records, err := store.Load(context.Background())
	require.NoError(t, err)
	codes := make([]string, len(records))
	for i, rec := range records {
		codes[i] = rec.Code
	}
	return codes
}

func seedStore(t *testing.T, path string, codes ...string) {
	t.Helper()
	records := make([]product.Record, len(codes))
	for i, c := range codes {
		records[i] = product.Record{SchemaVersion: product.SchemaVersion, Code: c, Name: "seeded " + c, Size: "75 cl"}
	}
	data, err := local.Encode(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newLocalStore(t *testing.T) (*local.RecordStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.json")
	store, err := local.New(local.Config{Path: path})
	require.NoError(t, err)
	return store, path
}

func TestRunResumesAfterLastStoredCode(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	seedStore(t, path, "A", "B", "C")
	h := newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	summary, err := c.Run(context.Background(), ids("A", "B", "C", "D", "E"), 1, true)
	require.NoError(t, err)

	assert.Equal(t, ids("D", "E"), h.fetcher.Calls())
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 5, summary.Records)
	assert.True(t, summary.Resumed)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, storedCodes(t, path))
	assert.Equal(t, StateCompleted, c.State())
	state, ok := c.ItemState("E")
	require.True(t, ok)
	assert.Equal(t, crawler.StateSaved, state)
}

func TestRunResumeFailsWhenPositionMissing(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	seedStore(t, path, "A", "Z")
	h := newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), ids("A", "B", "C"), 2, true)
	require.ErrorIs(t, err, crawler.ErrResumePosition)
	assert.Empty(t, h.fetcher.Calls())
	assert.Equal(t, []string{"A", "Z"}, storedCodes(t, path))
}

func TestRunResumeWithEmptyStoreStartsFromBeginning(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	h := newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), ids("A", "B"), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, storedCodes(t, path))
}

func TestRunFreshOverwritesExistingStore(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	seedStore(t, path, "X", "Y")
	h := newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), ids("A"), 1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, storedCodes(t, path))
}

func TestRunFreshAfterResumeStartsFromEmptyWorkingSet(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	seedStore(t, path, "X", "Y")
	h := newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), ids("X", "Y", "Z"), 1, true)
	require.NoError(t, err)
	require.Equal(t, []string{"X", "Y", "Z"}, storedCodes(t, path))

	summary, err := c.Run(context.Background(), ids("A"), 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, []string{"A"}, storedCodes(t, path))
	assert.Equal(t, 1, store.Len())
}

func TestRunReprocessingReplacesRecord(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	h := newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), ids("A", "B", "A"), 1, false)
	require.NoError(t, err)

	reloaded, err := local.New(local.Config{Path: path})
	require.NoError(t, err)
	records, err := reloaded.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Code)
	assert.Equal(t, "Product A v2", records[0].Name)
	assert.Equal(t, "B", records[1].Code)
}

func TestRunCountsSkipsAndFailures(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	h := newHarness(store)
	h.fetcher.failing = map[crawler.ProductID]bool{"C": true}
	h.deps.Pipeline.Extractor = stubExtractor{skip: map[crawler.ProductID]bool{"B": true}}
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	summary, err := c.Run(context.Background(), ids("A", "B", "C", "D"), 2, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, summary.Processed())
	assert.ElementsMatch(t, []string{"A", "D"}, storedCodes(t, path))

	stages := h.emitter.Stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

// serialStore fails the test if any two store calls overlap.
type serialStore struct {
	inFlight   atomic.Int32
	overlaps   atomic.Int32
	mu         sync.Mutex
	records    []product.Record
	failWith   error
	checkpoint atomic.Int32
}

func (s *serialStore) enter() func() {
	if s.inFlight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	time.Sleep(200 * time.Microsecond)
	return func() { s.inFlight.Add(-1) }
}

func (s *serialStore) Load(context.Context) ([]product.Record, error) { return nil, nil }

func (s *serialStore) Reset() {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

func (s *serialStore) Put(rec product.Record) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].Code == rec.Code {
			s.records[i] = rec
			return
		}
	}
	s.records = append(s.records, rec)
}

func (s *serialStore) Checkpoint(context.Context) error {
	defer s.enter()()
	s.checkpoint.Add(1)
	return s.failWith
}

func (s *serialStore) Records() []product.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]product.Record(nil), s.records...)
}

func (s *serialStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *serialStore) Path() string { return "products.json" }

func TestRunSingleWriterWithManyWorkers(t *testing.T) {
	t.Parallel()

	store := &serialStore{}
	h := newHarness(store)
	c, err := New(Config{CheckpointEvery: 3}, h.deps, nil)
	require.NoError(t, err)

	var all []string
	for i := 0; i < 40; i++ {
		all = append(all, fmt.Sprintf("%d", 1001+i))
	}
	summary, err := c.Run(context.Background(), ids(all...), 8, false)
	require.NoError(t, err)

	assert.Zero(t, store.overlaps.Load())
	assert.Equal(t, 40, summary.Saved)
	assert.Equal(t, 40, store.Len())
	// 13 periodic checkpoints plus the final one.
	assert.Equal(t, int32(14), store.checkpoint.Load())

	var mirrored int
	for _, batch := range h.mirror.batches {
		mirrored += len(batch)
	}
	assert.Equal(t, 40, mirrored)
}

func TestRunHaltsOnPersistenceFailure(t *testing.T) {
	t.Parallel()

	store := &serialStore{failWith: errors.New("disk full")}
	h := newHarness(store)
	core, logs := observer.New(zapcore.ErrorLevel)
	c, err := New(Config{RetryDelay: 10 * time.Second, MaxWriteAttempts: 3}, h.deps, zap.New(core))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), ids("A", "B", "C"), 1, false)
	var persistErr *crawler.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, 3, persistErr.Attempts)
	assert.Equal(t, "products.json", persistErr.Path)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int32(3), store.checkpoint.Load())
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, h.pauser.delays)

	failures := logs.FilterMessage("checkpoint failed").All()
	require.Len(t, failures, 3)
	unsaved, ok := failures[0].ContextMap()["unsaved_records"].([]interface{})
	require.True(t, ok)
	require.Len(t, unsaved, 1)
	assert.Contains(t, unsaved[0], `"code":"A"`)
	assert.Empty(t, h.mirror.batches)
	assert.Contains(t, h.emitter.Stages(), progress.StageRunError)
}

func TestRunMirrorFailureIsRetriedWithNextCheckpoint(t *testing.T) {
	t.Parallel()

	store, _ := newLocalStore(t)
	h := newHarness(store)
	h.mirror.failN = 1
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)

	summary, err := c.Run(context.Background(), ids("A", "B"), 1, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, [][]string{{"A", "B"}}, h.mirror.batches)
}

func TestRunCancellationCheckpointsCollectedRecords(t *testing.T) {
	t.Parallel()

	store, path := newLocalStore(t)
	h := newHarness(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(id crawler.ProductID) {
		if id == "C" {
			cancel()
		}
	}
	c, err := New(Config{CheckpointEvery: 100}, h.deps, nil)
	require.NoError(t, err)

	summary, err := c.Run(ctx, ids("A", "B", "C", "D"), 1, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, []string{"A", "B"}, storedCodes(t, path))
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)

	store, _ := newLocalStore(t)
	h := newHarness(store)
	h.deps.Pipeline.Pacer = nil
	_, err = New(Config{}, h.deps, nil)
	require.Error(t, err)

	h = newHarness(store)
	c, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)
	_, err = c.Run(context.Background(), ids("A"), 0, false)
	require.Error(t, err)
}
