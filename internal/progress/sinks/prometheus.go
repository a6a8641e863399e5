package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
)

// PrometheusSink exports run-level progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	itemsDone     *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	storeRecords  prometheus.Gauge

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const ns = "vinmonopol_crawler"
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_started_total",
			Help:      "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_completed_total",
			Help:      "Crawl runs finished, by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "runs_running",
			Help:      "Crawl runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Wall time per finished run.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}, []string{"result"}),
		itemsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "run_items_total",
			Help:      "Identifiers finished within runs, by terminal state.",
		}, []string{"state"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_item_duration_seconds",
			Help:      "Time from dequeue to terminal state per identifier.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"state"}),
		storeRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_store_records",
			Help:      "Records in the store at the latest checkpoint.",
		}),
		running: make(map[[16]byte]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runDuration,
		s.itemsDone, s.itemDuration, s.storeRecords,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.markRunning(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageItemDone:
			s.itemsDone.WithLabelValues(evt.ItemState).Inc()
			if evt.Dur > 0 {
				s.itemDuration.WithLabelValues(evt.ItemState).Observe(evt.Dur.Seconds())
			}
		case progress.StageCheckpoint:
			s.storeRecords.Set(float64(evt.Records))
		case progress.StageRunDone:
			s.storeRecords.Set(float64(evt.Records))
			s.finish(evt, "success")
		case progress.StageRunError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.markRunning(evt.RunID, false) {
		s.runsRunning.Dec()
	}
}

// markRunning records a run transition and reports whether it changed state.
func (s *PrometheusSink) markRunning(id [16]byte, running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if running {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
