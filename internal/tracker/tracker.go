package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/saviobatista/heli-tracker/internal/fetcher"
	"github.com/saviobatista/heli-tracker/internal/parser"
	"github.com/saviobatista/heli-tracker/internal/stats"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// MatchTolerance is how far a stored flight's start may be from a leg's start
// for the leg's telemetry to be attached to it during backfill.
const MatchTolerance = 60 * time.Second

// ErrNothingIngested is returned by Resume when no tracked aircraft has any flights yet
var ErrNothingIngested = errors.New("no flights ingested yet")

// Store interface for testability
type Store interface {
	UpsertFlightWithTelemetry(icao string, start, end time.Time, telemetry []types.TelemetryPoint) (*types.UpsertResult, error)
	UpsertFlights(records []types.FlightRecord) (types.UpsertCounts, error)
	InsertTelemetry(flightID int64, points []types.TelemetryPoint) (int, error)
	GetFlightsWithoutTelemetry(filter types.FlightFilter) ([]*types.Flight, error)
	GetLastIngestedDate(icao string, tracked []string) (*time.Time, error)
}

// Publisher announces reconciled flights
type Publisher interface {
	PublishFlightEvent(event *types.FlightEvent) error
}

// Tracker drives fetching, segmentation and reconciliation across aircraft and dates
type Tracker struct {
	db        Store
	fetcher   fetcher.Fetcher
	publisher Publisher
	stats     *stats.Stats
	gap       time.Duration
}

// New creates a tracker. A nil st gets a fresh sync-mode Stats.
func New(db Store, f fetcher.Fetcher, st *stats.Stats) *Tracker {
	if st == nil {
		st = stats.New("sync")
	}
	return &Tracker{
		db:      db,
		fetcher: f,
		stats:   st,
		gap:     parser.DefaultGapThreshold,
	}
}

// SetPublisher enables flight events
func (t *Tracker) SetPublisher(p Publisher) {
	t.publisher = p
}

// SetGapThreshold overrides the leg segmentation gap
func (t *Tracker) SetGapThreshold(gap time.Duration) {
	if gap > 0 {
		t.gap = gap
	}
}

// Stats returns the run statistics
func (t *Tracker) Stats() *stats.Stats {
	return t.stats
}

// fetchLegs fetches and segments one aircraft's trace for one date
func (t *Tracker) fetchLegs(ctx context.Context, icao string, date time.Time) ([]types.FlightLeg, error) {
	trace, err := t.fetcher.Fetch(ctx, icao, date)
	if err != nil {
		t.stats.IncrementFetchFailures()
		return nil, err
	}
	t.stats.IncrementFetches()

	legs := parser.SegmentLegs(trace, t.gap)
	t.stats.AddLegs(len(legs))
	return legs, nil
}

func logFetchError(icao string, date time.Time, err error) {
	day := date.Format(parser.DateLayout)
	if errors.Is(err, fetcher.ErrNoTraceData) {
		log.Printf("  No trace data for %s on %s", icao, day)
		return
	}
	log.Printf("  Error fetching %s on %s: %v", icao, day, err)
}

// collectFlights fetches every date for one aircraft and returns the legs
// starting on the date they were fetched for, one per distinct start time.
func (t *Tracker) collectFlights(ctx context.Context, icao string, dates []time.Time, includeTelemetry bool, summary *types.SyncSummary) ([]types.FlightRecord, error) {
	var records []types.FlightRecord
	seen := make(map[int64]bool)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		summary.Units++
		log.Printf("Fetching %s for %s...", icao, date.Format(parser.DateLayout))

		legs, err := t.fetchLegs(ctx, icao, date)
		if err != nil {
			summary.FailedUnits++
			logFetchError(icao, date, err)
			continue
		}

		legs = parser.FilterLegsByDateRange(legs, date, date)
		if len(legs) == 0 {
			log.Printf("  No flights for %s on %s", icao, date.Format(parser.DateLayout))
			continue
		}
		log.Printf("  Found %d flight(s)", len(legs))

		for _, leg := range legs {
			key := leg.StartTime.UnixNano()
			if seen[key] {
				continue
			}
			seen[key] = true

			record := types.FlightRecord{ICAO: icao, StartTime: leg.StartTime, EndTime: leg.EndTime}
			if includeTelemetry {
				record.Telemetry = leg.Telemetry
			}
			records = append(records, record)
		}
	}
	summary.Legs += len(records)
	return records, nil
}

// SyncFlights fetches each aircraft's traces for every date from start to end
// (inclusive, a zero end meaning start only) and reconciles the resulting
// legs with storage in start time order. A failed fetch skips that aircraft
// and date; storage errors abort the run.
func (t *Tracker) SyncFlights(ctx context.Context, aircraft []string, start, end time.Time, includeTelemetry bool) (*types.SyncSummary, error) {
	dates := parser.DateRange(start, end)
	summary := &types.SyncSummary{}

	log.Printf("Syncing %d aircraft over %d date(s)", len(aircraft), len(dates))
	if !includeTelemetry {
		log.Println("Telemetry capture disabled")
	}

	var records []types.FlightRecord
	for _, icao := range aircraft {
		found, err := t.collectFlights(ctx, icao, dates, includeTelemetry, summary)
		if err != nil {
			return summary, err
		}
		records = append(records, found...)
	}

	if len(records) == 0 {
		log.Println("No flights found in the requested date range")
		return summary, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})

	for _, r := range records {
		result, err := t.db.UpsertFlightWithTelemetry(r.ICAO, r.StartTime, r.EndTime, r.Telemetry)
		if err != nil {
			return summary, fmt.Errorf("failed to upsert flight %s at %s: %w", r.ICAO, r.StartTime.Format(time.RFC3339), err)
		}
		summary.Counts.Add(result.Action)
		summary.TelemetryPoints += result.TelemetryCount
		t.stats.RecordUpsert(result.Action)
		t.stats.AddTelemetryPoints(result.TelemetryCount)
		t.publish(result)
	}

	log.Printf("Results: %d inserted, %d updated, %d unchanged",
		summary.Counts.Inserted, summary.Counts.Updated, summary.Counts.Unchanged)
	if includeTelemetry {
		log.Printf("Telemetry: %d points stored", summary.TelemetryPoints)
	}
	return summary, nil
}

func (t *Tracker) publish(result *types.UpsertResult) {
	if t.publisher == nil || result.Flight == nil {
		return
	}
	event := &types.FlightEvent{
		Action:         result.Action,
		FlightID:       result.Flight.ID,
		ICAO:           result.Flight.ICAO,
		StartTime:      result.Flight.StartTime,
		EndTime:        result.Flight.EndTime,
		TelemetryCount: result.TelemetryCount,
		RunID:          t.stats.RunID,
		Timestamp:      time.Now().UTC(),
	}
	if err := t.publisher.PublishFlightEvent(event); err != nil {
		log.Printf("Warning: Failed to publish flight event: %v", err)
	}
}

type flightGroup struct {
	icao    string
	date    time.Time
	flights []*types.Flight
}

// groupFlights buckets flights by aircraft and UTC start date, keeping the
// order in which each bucket is first seen.
func groupFlights(flights []*types.Flight) []*flightGroup {
	var groups []*flightGroup
	index := make(map[string]*flightGroup)
	for _, f := range flights {
		date := parser.StartOfDay(f.StartTime)
		key := f.ICAO + "/" + date.Format(parser.DateLayout)
		g, ok := index[key]
		if !ok {
			g = &flightGroup{icao: f.ICAO, date: date}
			index[key] = g
			groups = append(groups, g)
		}
		g.flights = append(g.flights, f)
	}
	return groups
}

// BackfillTelemetry attaches telemetry to stored flights that have none. The
// trace of each aircraft and date is fetched once; each flight takes the
// telemetry of the leg starting nearest to it, if that leg is within
// MatchTolerance. Several flights may take the same leg.
func (t *Tracker) BackfillTelemetry(ctx context.Context, filter types.FlightFilter) (*types.BackfillSummary, error) {
	flights, err := t.db.GetFlightsWithoutTelemetry(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get flights without telemetry: %w", err)
	}

	summary := &types.BackfillSummary{Flights: len(flights)}
	if len(flights) == 0 {
		log.Println("No flights without telemetry found")
		return summary, nil
	}

	groups := groupFlights(flights)
	summary.Groups = len(groups)
	log.Printf("Found %d flight(s) without telemetry in %d (aircraft, date) group(s)", len(flights), len(groups))

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log.Printf("Fetching %s for %s...", g.icao, g.date.Format(parser.DateLayout))

		legs, err := t.fetchLegs(ctx, g.icao, g.date)
		if err != nil {
			logFetchError(g.icao, g.date, err)
			summary.FailedGroups++
			t.markUnmatched(summary, len(g.flights))
			continue
		}
		if len(legs) == 0 {
			log.Println("  No legs found in trace data")
			t.markUnmatched(summary, len(g.flights))
			continue
		}
		log.Printf("  Found %d leg(s) in trace data", len(legs))

		for _, flight := range g.flights {
			idx, diff, ok := parser.MatchLeg(flight.StartTime, legs, MatchTolerance)
			if !ok {
				log.Printf("  No match for flight %d (start=%s, closest diff=%s)",
					flight.ID, flight.StartTime.Format(time.RFC3339), diff)
				t.markUnmatched(summary, 1)
				continue
			}

			telemetry := legs[idx].Telemetry
			if len(telemetry) == 0 {
				log.Printf("  Matched flight %d but leg has no telemetry", flight.ID)
				t.markUnmatched(summary, 1)
				continue
			}

			count, err := t.db.InsertTelemetry(flight.ID, telemetry)
			if err != nil {
				return summary, fmt.Errorf("failed to insert telemetry for flight %d: %w", flight.ID, err)
			}
			summary.Matched++
			summary.TelemetryPoints += count
			t.stats.IncrementMatched()
			t.stats.AddTelemetryPoints(count)
			log.Printf("  Matched flight %d (diff=%s): %d points", flight.ID, diff, count)
		}
	}

	log.Printf("Backfill complete: %d flight(s) matched, %d unmatched, %d telemetry points inserted",
		summary.Matched, summary.Unmatched, summary.TelemetryPoints)
	return summary, nil
}

func (t *Tracker) markUnmatched(summary *types.BackfillSummary, n int) {
	summary.Unmatched += n
	for i := 0; i < n; i++ {
		t.stats.IncrementUnmatched()
	}
}

// Resume syncs from the earliest ingestion frontier of aircraft up to the
// day before now. The frontier day itself is synced again since it may have
// been captured only partially.
func (t *Tracker) Resume(ctx context.Context, aircraft []string, now time.Time, includeTelemetry bool) (*types.SyncSummary, error) {
	frontier, err := t.db.GetLastIngestedDate("", aircraft)
	if err != nil {
		return nil, fmt.Errorf("failed to get last ingested date: %w", err)
	}
	if frontier == nil {
		return nil, ErrNothingIngested
	}

	end := parser.Yesterday(now)
	if frontier.After(end) {
		log.Printf("Already up to date (last ingested %s)", frontier.Format(parser.DateLayout))
		return &types.SyncSummary{}, nil
	}

	log.Printf("Resuming from %s to %s", frontier.Format(parser.DateLayout), end.Format(parser.DateLayout))
	return t.SyncFlights(ctx, aircraft, *frontier, end, includeTelemetry)
}
