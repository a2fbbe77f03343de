package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/heli-tracker/internal/config"
	"github.com/saviobatista/heli-tracker/internal/db"
	"github.com/saviobatista/heli-tracker/internal/db/migrations"
	"github.com/saviobatista/heli-tracker/internal/fetcher"
	"github.com/saviobatista/heli-tracker/internal/nats"
	"github.com/saviobatista/heli-tracker/internal/parser"
	"github.com/saviobatista/heli-tracker/internal/redis"
	"github.com/saviobatista/heli-tracker/internal/stats"
	"github.com/saviobatista/heli-tracker/internal/tracker"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// Run modes
const (
	modeSync              = "sync"
	modeResume            = "resume"
	modeCSV               = "csv-backfill"
	modeBackfillTelemetry = "backfill-telemetry"
)

const statsInterval = 30 * time.Second

// options holds the command line flags
type options struct {
	icao              string
	startDate         string
	endDate           string
	yesterday         bool
	backfill          string
	noTelemetry       bool
	backfillTelemetry bool
	resume            bool
	gap               int
}

// parseFlags parses the command line
func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	fs.StringVar(&o.icao, "icao", "", "Aircraft ICAO hex code (e.g. ad389e); defaults to all tracked aircraft")
	fs.StringVar(&o.startDate, "start-date", "", "Start date (YYYY-MM-DD)")
	fs.StringVar(&o.endDate, "end-date", "", "End date (YYYY-MM-DD); defaults to start-date")
	fs.BoolVar(&o.yesterday, "yesterday", false, "Fetch flights for yesterday (UTC)")
	fs.StringVar(&o.backfill, "backfill", "", "Backfill flights from a CSV file")
	fs.BoolVar(&o.noTelemetry, "no-telemetry", false, "Only store flight start/end times")
	fs.BoolVar(&o.backfillTelemetry, "backfill-telemetry", false, "Backfill telemetry for stored flights that have none")
	fs.BoolVar(&o.resume, "resume", false, "Sync from the last ingested date up to yesterday")
	fs.IntVar(&o.gap, "gap", 0, "Seconds of silence that split a trace into legs; defaults to GAP_THRESHOLD")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// mode returns the selected run mode. Telemetry backfill takes precedence
// over CSV backfill, which takes precedence over syncing.
func (o *options) mode() string {
	switch {
	case o.backfillTelemetry:
		return modeBackfillTelemetry
	case o.backfill != "":
		return modeCSV
	case o.resume:
		return modeResume
	default:
		return modeSync
	}
}

// dateRange resolves the sync window
func (o *options) dateRange(now time.Time) (time.Time, time.Time, error) {
	if o.yesterday {
		d := parser.Yesterday(now)
		return d, d, nil
	}
	if o.startDate == "" {
		return time.Time{}, time.Time{}, errors.New("must specify -yesterday, -start-date or -resume")
	}

	start, err := parser.ParseDate(o.startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := start
	if o.endDate != "" {
		if end, err = parser.ParseDate(o.endDate); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", o.endDate, o.startDate)
	}
	return start, end, nil
}

// filter builds the flight filter used by telemetry backfill
func (o *options) filter() (types.FlightFilter, error) {
	var filter types.FlightFilter
	var err error
	if o.icao != "" {
		if filter.ICAO, err = config.NormalizeICAO(o.icao); err != nil {
			return filter, err
		}
	}
	if o.startDate != "" {
		if filter.StartDate, err = parser.ParseDate(o.startDate); err != nil {
			return filter, err
		}
	}
	if o.endDate != "" {
		if filter.EndDate, err = parser.ParseDate(o.endDate); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

// aircraft returns the single aircraft given on the command line, or the tracked list
func (o *options) aircraft(tracked []string) ([]string, error) {
	if o.icao == "" {
		log.Printf("Using tracked aircraft: %v", tracked)
		return tracked, nil
	}
	icao, err := config.NormalizeICAO(o.icao)
	if err != nil {
		return nil, err
	}
	return []string{icao}, nil
}

// buildFetcher creates the trace fetcher, cached in Redis when configured
func buildFetcher(cfg *config.Config) (fetcher.Fetcher, func()) {
	httpFetcher := fetcher.NewHTTPFetcher(cfg.TraceBaseURL, cfg.FetchTimeout)
	if cfg.RedisAddr == "" {
		return httpFetcher, func() {}
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		log.Printf("Warning: Trace cache disabled: %v", err)
		return httpFetcher, func() {}
	}
	return fetcher.NewCachingFetcher(httpFetcher, redisClient), func() {
		if err := redisClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}
}

// connectPublisher connects to NATS when configured. Events are optional,
// so a connection failure only disables them.
func connectPublisher(natsURL string) *nats.Client {
	if natsURL == "" {
		return nil
	}
	client, err := nats.New(natsURL)
	if err != nil {
		log.Printf("Warning: Flight events disabled: %v", err)
		return nil
	}
	return client
}

// execute runs the selected mode
func execute(ctx context.Context, tr *tracker.Tracker, o *options, tracked []string, now time.Time) error {
	includeTelemetry := !o.noTelemetry

	switch o.mode() {
	case modeBackfillTelemetry:
		filter, err := o.filter()
		if err != nil {
			return err
		}
		_, err = tr.BackfillTelemetry(ctx, filter)
		return err

	case modeCSV:
		icao := ""
		if o.icao != "" {
			var err error
			if icao, err = config.NormalizeICAO(o.icao); err != nil {
				return err
			}
		}
		_, err := tr.BackfillFromCSV(o.backfill, icao)
		if errors.Is(err, tracker.ErrUnknownICAO) {
			return fmt.Errorf("%w; please provide -icao", err)
		}
		return err

	case modeResume:
		aircraft, err := o.aircraft(tracked)
		if err != nil {
			return err
		}
		_, err = tr.Resume(ctx, aircraft, now, includeTelemetry)
		if errors.Is(err, tracker.ErrNothingIngested) {
			return fmt.Errorf("%w; run with -start-date first", err)
		}
		return err

	default:
		start, end, err := o.dateRange(now)
		if err != nil {
			return err
		}
		aircraft, err := o.aircraft(tracked)
		if err != nil {
			return err
		}
		_, err = tr.SyncFlights(ctx, aircraft, start, end, includeTelemetry)
		return err
	}
}

// finishRun records the run counters and pushes metrics when configured
func finishRun(st *stats.Stats, pushgatewayURL string) {
	log.Printf("Statistics:\n%s", st)
	if err := st.Persist(); err != nil {
		log.Printf("Warning: Failed to persist run statistics: %v", err)
	}
	if pushgatewayURL != "" {
		if err := st.Push(pushgatewayURL); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
}

func run(args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Validate the request before touching any backend
	now := time.Now().UTC()
	if o.mode() == modeSync {
		if _, _, err := o.dateRange(now); err != nil {
			return err
		}
	}

	dbClient, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}()
	if err := dbClient.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.New(dbClient.DB()).Migrate(migrations.All()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	f, closeFetcher := buildFetcher(cfg)
	defer closeFetcher()

	st := stats.New(o.mode())
	st.SetDB(dbClient)

	tr := tracker.New(dbClient, f, st)
	gap := cfg.GapThreshold
	if o.gap > 0 {
		gap = time.Duration(o.gap) * time.Second
	}
	tr.SetGapThreshold(gap)

	if publisher := connectPublisher(cfg.NATSURL); publisher != nil {
		defer publisher.Close()
		tr.SetPublisher(publisher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Long backfills show their progress in sync_runs while running
	persistCtx, stopPersist := context.WithCancel(ctx)
	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		st.StartPersistence(persistCtx, statsInterval)
	}()

	err = execute(ctx, tr, o, cfg.TrackedAircraft, now)
	stopPersist()
	<-persisted
	finishRun(st, cfg.PushgatewayURL)
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
