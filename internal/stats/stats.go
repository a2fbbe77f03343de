package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// Store persists finished run counters
type Store interface {
	StoreSyncRun(run *types.SyncRun) error
}

// Stats tracks the counters of one tracker run
type Stats struct {
	RunID     string
	Mode      string
	StartedAt time.Time

	Fetches         uint64
	FetchFailures   uint64
	Legs            uint64
	Inserted        uint64
	Updated         uint64
	Unchanged       uint64
	TelemetryPoints uint64
	Matched         uint64
	Unmatched       uint64

	// Database client for persistence
	db Store

	registry       *prometheus.Registry
	fetchesTotal   *prometheus.CounterVec
	legsTotal      prometheus.Counter
	flightsTotal   *prometheus.CounterVec
	telemetryTotal prometheus.Counter
	backfillTotal  *prometheus.CounterVec
	lastSuccess    prometheus.Gauge

	mu sync.RWMutex
}

// New creates a new Stats instance for a run in the given mode
func New(mode string) *Stats {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Stats{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		registry:  reg,
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heli_tracker_trace_fetches_total",
			Help: "Trace fetches by outcome.",
		}, []string{"outcome"}),
		legsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "heli_tracker_legs_total",
			Help: "Flight legs segmented from fetched traces.",
		}),
		flightsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heli_tracker_flights_total",
			Help: "Flights reconciled with storage by action.",
		}, []string{"action"}),
		telemetryTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "heli_tracker_telemetry_points_total",
			Help: "Telemetry points written.",
		}),
		backfillTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heli_tracker_backfill_flights_total",
			Help: "Stored flights considered for telemetry backfill by result.",
		}, []string{"result"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "heli_tracker_last_success_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
}

// SetDB sets the database client for persistence
func (s *Stats) SetDB(db Store) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
}

// Registry returns the run's metric registry
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// IncrementFetches counts a successful trace fetch
func (s *Stats) IncrementFetches() {
	atomic.AddUint64(&s.Fetches, 1)
	s.fetchesTotal.WithLabelValues("ok").Inc()
}

// IncrementFetchFailures counts a failed or empty trace fetch
func (s *Stats) IncrementFetchFailures() {
	atomic.AddUint64(&s.FetchFailures, 1)
	s.fetchesTotal.WithLabelValues("failed").Inc()
}

// AddLegs counts segmented legs
func (s *Stats) AddLegs(n int) {
	atomic.AddUint64(&s.Legs, uint64(n))
	s.legsTotal.Add(float64(n))
}

// RecordUpsert counts one reconciled flight
func (s *Stats) RecordUpsert(action types.UpsertAction) {
	switch action {
	case types.ActionInserted:
		atomic.AddUint64(&s.Inserted, 1)
	case types.ActionUpdated:
		atomic.AddUint64(&s.Updated, 1)
	case types.ActionUnchanged:
		atomic.AddUint64(&s.Unchanged, 1)
	default:
		return
	}
	s.flightsTotal.WithLabelValues(string(action)).Inc()
}

// AddTelemetryPoints counts written telemetry points
func (s *Stats) AddTelemetryPoints(n int) {
	atomic.AddUint64(&s.TelemetryPoints, uint64(n))
	s.telemetryTotal.Add(float64(n))
}

// IncrementMatched counts a flight that received telemetry during backfill
func (s *Stats) IncrementMatched() {
	atomic.AddUint64(&s.Matched, 1)
	s.backfillTotal.WithLabelValues("matched").Inc()
}

// IncrementUnmatched counts a flight left without telemetry during backfill
func (s *Stats) IncrementUnmatched() {
	atomic.AddUint64(&s.Unmatched, 1)
	s.backfillTotal.WithLabelValues("unmatched").Inc()
}

// Snapshot returns the run counters as of now
func (s *Stats) Snapshot() *types.SyncRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &types.SyncRun{
		RunID:           s.RunID,
		Mode:            s.Mode,
		StartedAt:       s.StartedAt,
		FinishedAt:      time.Now().UTC(),
		Fetches:         atomic.LoadUint64(&s.Fetches),
		FetchFailures:   atomic.LoadUint64(&s.FetchFailures),
		Legs:            atomic.LoadUint64(&s.Legs),
		Inserted:        atomic.LoadUint64(&s.Inserted),
		Updated:         atomic.LoadUint64(&s.Updated),
		Unchanged:       atomic.LoadUint64(&s.Unchanged),
		TelemetryPoints: atomic.LoadUint64(&s.TelemetryPoints),
		Matched:         atomic.LoadUint64(&s.Matched),
		Unmatched:       atomic.LoadUint64(&s.Unmatched),
	}
}

// Persist stores the current counters in the database
func (s *Stats) Persist() error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("database client not set")
	}

	return db.StoreSyncRun(s.Snapshot())
}

// Push sends the run's metrics to a Prometheus Pushgateway
func (s *Stats) Push(url string) error {
	s.lastSuccess.SetToCurrentTime()
	err := push.New(url, "heli_tracker").
		Gatherer(s.registry).
		Grouping("mode", s.Mode).
		Push()
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	run := s.Snapshot()
	return fmt.Sprintf(
		"Run: %s (%s)\n"+
			"Fetches: %d (%d failed)\n"+
			"Legs: %d\n"+
			"Inserted: %d\n"+
			"Updated: %d\n"+
			"Unchanged: %d\n"+
			"Telemetry Points: %d\n"+
			"Matched: %d\n"+
			"Unmatched: %d\n"+
			"Elapsed: %s",
		run.RunID, run.Mode,
		run.Fetches, run.FetchFailures,
		run.Legs,
		run.Inserted,
		run.Updated,
		run.Unchanged,
		run.TelemetryPoints,
		run.Matched,
		run.Unmatched,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)
}

// StartPersistence periodically persists the counters until ctx is done,
// then persists once more.
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				log.Printf("Failed to persist final statistics: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				log.Printf("Failed to persist statistics: %v", err)
			}
		}
	}
}
