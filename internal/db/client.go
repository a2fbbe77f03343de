package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/saviobatista/heli-tracker/internal/parser"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// Client is the flight store backed by PostgreSQL
type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB exposes the underlying pool, e.g. for running migrations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the database is reachable
func (c *Client) Ping() error {
	return c.db.Ping()
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const flightColumns = `id, icao, start_time, end_time, created_at, updated_at`

func scanFlight(row rowScanner) (*types.Flight, error) {
	var f types.Flight
	if err := row.Scan(&f.ID, &f.ICAO, &f.StartTime, &f.EndTime, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.StartTime = f.StartTime.UTC()
	f.EndTime = f.EndTime.UTC()
	return &f, nil
}

// findFlight returns nil when no flight has that identity
func findFlight(q rowQuerier, icao string, start time.Time, lock bool) (*types.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE icao = $1 AND start_time = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	f, err := scanFlight(q.QueryRow(query, icao, start))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// GetFlight looks a flight up by its natural key. It returns nil if there is none.
func (c *Client) GetFlight(icao string, start time.Time) (*types.Flight, error) {
	f, err := findFlight(c.db, icao, start, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}
	return f, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("Warning: failed to rollback transaction: %v", err)
	}
}

// insertFlightStmt inserts a new flight. A row committed by a concurrent
// writer since the lookup keeps whichever end_time is later.
const insertFlightStmt = `
	INSERT INTO flights (icao, start_time, end_time)
	VALUES ($1, $2, $3)
	ON CONFLICT ON CONSTRAINT uix_icao_start_time DO UPDATE SET
		end_time = EXCLUDED.end_time,
		updated_at = NOW()
	WHERE flights.end_time < EXCLUDED.end_time
`

// UpsertFlight reconciles one flight leg with storage.
//
// A new (icao, start_time) is inserted. An existing flight has its end_time
// moved forward when end is later, and is left alone otherwise. When a
// concurrent writer inserts the same key first, the later end_time wins.
func (c *Client) UpsertFlight(icao string, start, end time.Time) (*types.UpsertResult, error) {
	start, end = start.UTC(), end.UTC()

	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	existing, err := findFlight(tx, icao, start, true)
	if err != nil {
		return nil, fmt.Errorf("failed to look up flight: %w", err)
	}

	if existing != nil {
		if !end.After(existing.EndTime) {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
			return &types.UpsertResult{Action: types.ActionUnchanged, Flight: existing}, nil
		}

		if err := tx.QueryRow(
			`UPDATE flights SET end_time = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`,
			end, existing.ID,
		).Scan(&existing.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to update flight: %w", err)
		}
		existing.EndTime = end

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return &types.UpsertResult{Action: types.ActionUpdated, Flight: existing}, nil
	}

	if _, err := tx.Exec(insertFlightStmt, icao, start, end); err != nil {
		return nil, fmt.Errorf("failed to insert flight: %w", err)
	}

	flight, err := findFlight(tx, icao, start, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read back flight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &types.UpsertResult{Action: types.ActionInserted, Flight: flight}, nil
}

// UpsertFlights upserts each record on its own and counts the actions taken
func (c *Client) UpsertFlights(records []types.FlightRecord) (types.UpsertCounts, error) {
	var counts types.UpsertCounts
	for _, r := range records {
		result, err := c.UpsertFlight(r.ICAO, r.StartTime, r.EndTime)
		if err != nil {
			return counts, err
		}
		counts.Add(result.Action)
	}
	return counts, nil
}

// UpsertFlightWithTelemetry upserts a flight and, when telemetry is given,
// replaces the flight's stored telemetry with it. The replacement happens
// even if the flight itself was unchanged.
func (c *Client) UpsertFlightWithTelemetry(icao string, start, end time.Time, telemetry []types.TelemetryPoint) (*types.UpsertResult, error) {
	result, err := c.UpsertFlight(icao, start, end)
	if err != nil {
		return nil, err
	}

	if len(telemetry) > 0 && result.Flight != nil {
		count, err := c.InsertTelemetry(result.Flight.ID, telemetry)
		if err != nil {
			return nil, err
		}
		result.TelemetryCount = count
	}

	return result, nil
}

// DeleteFlightTelemetry removes all telemetry of a flight
func (c *Client) DeleteFlightTelemetry(flightID int64) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM flight_telemetry WHERE flight_id = $1`, flightID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete telemetry: %w", err)
	}
	return res.RowsAffected()
}

var telemetryColumns = []string{
	"flight_id", "timestamp", "latitude", "longitude", "altitude", "altitude_ground",
	"ground_speed", "track", "vertical_rate", "flags", "geo_altitude",
	"geo_vertical_rate", "ias", "roll_angle",
}

// InsertTelemetry replaces a flight's telemetry with points. An empty set is
// a no-op and leaves existing rows in place.
func (c *Client) InsertTelemetry(flightID int64, points []types.TelemetryPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.Exec(`DELETE FROM flight_telemetry WHERE flight_id = $1`, flightID); err != nil {
		return 0, fmt.Errorf("failed to delete telemetry: %w", err)
	}

	stmt, err := tx.Prepare(pq.CopyIn("flight_telemetry", telemetryColumns...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare telemetry copy: %w", err)
	}
	for _, p := range points {
		if _, err := stmt.Exec(
			flightID, p.Timestamp.UTC(), p.Latitude, p.Longitude, p.Altitude, p.AltitudeGround,
			p.GroundSpeed, p.Track, p.VerticalRate, p.Flags, p.GeoAltitude,
			p.GeoVerticalRate, p.IndicatedAirspeed, p.RollAngle,
		); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("failed to copy telemetry point: %w", err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		_ = stmt.Close()
		return 0, fmt.Errorf("failed to flush telemetry copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close telemetry copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit telemetry: %w", err)
	}
	return len(points), nil
}

// CountTelemetry returns the number of stored telemetry points of a flight
func (c *Client) CountTelemetry(flightID int64) (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM flight_telemetry WHERE flight_id = $1`, flightID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count telemetry: %w", err)
	}
	return n, nil
}

func (c *Client) lastIngestedDate(icao string) (*time.Time, error) {
	var last sql.NullTime
	if err := c.db.QueryRow(
		`SELECT MAX(DATE(start_time AT TIME ZONE 'UTC')) FROM flights WHERE icao = $1`, icao,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get last ingested date for %s: %w", icao, err)
	}
	if !last.Valid {
		return nil, nil
	}
	d := time.Date(last.Time.Year(), last.Time.Month(), last.Time.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

// GetLastIngestedDate returns the latest UTC start date stored for icao. With
// an empty icao it returns the earliest of those dates across tracked, which
// is where a resumed sync has to start from. Aircraft without flights are
// ignored; nil means nothing has been ingested.
func (c *Client) GetLastIngestedDate(icao string, tracked []string) (*time.Time, error) {
	if icao != "" {
		return c.lastIngestedDate(icao)
	}

	var earliest *time.Time
	for _, aircraft := range tracked {
		last, err := c.lastIngestedDate(aircraft)
		if err != nil {
			return nil, err
		}
		if last != nil && (earliest == nil || last.Before(*earliest)) {
			earliest = last
		}
	}
	return earliest, nil
}

// GetFlightsWithoutTelemetry lists flights that have no telemetry rows,
// oldest first. The date bounds apply to the start_time instant: from
// midnight UTC of StartDate up to the last microsecond of EndDate.
func (c *Client) GetFlightsWithoutTelemetry(filter types.FlightFilter) ([]*types.Flight, error) {
	query := `
		SELECT f.id, f.icao, f.start_time, f.end_time, f.created_at, f.updated_at
		FROM flights f
		WHERE NOT EXISTS (SELECT 1 FROM flight_telemetry t WHERE t.flight_id = f.id)`
	query, args := applyFilter(query, filter)
	query += " ORDER BY f.start_time ASC"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights without telemetry: %w", err)
	}
	defer rows.Close()

	var flights []*types.Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// ListFlightSummaries returns every stored flight with its telemetry count
func (c *Client) ListFlightSummaries(filter types.FlightFilter) ([]types.FlightSummary, error) {
	query := `
		SELECT f.id, f.icao, f.start_time, f.end_time, f.created_at, f.updated_at,
			(SELECT COUNT(*) FROM flight_telemetry t WHERE t.flight_id = f.id)
		FROM flights f
		WHERE TRUE`
	query, args := applyFilter(query, filter)
	query += " ORDER BY f.icao, f.start_time"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight summaries: %w", err)
	}
	defer rows.Close()

	var summaries []types.FlightSummary
	for rows.Next() {
		var s types.FlightSummary
		if err := rows.Scan(&s.ID, &s.ICAO, &s.StartTime, &s.EndTime, &s.CreatedAt, &s.UpdatedAt, &s.TelemetryPoints); err != nil {
			return nil, fmt.Errorf("failed to scan flight summary: %w", err)
		}
		s.StartTime = s.StartTime.UTC()
		s.EndTime = s.EndTime.UTC()
		s.Duration = s.EndTime.Sub(s.StartTime)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ListTelemetryExport returns stored telemetry joined with the flight's aircraft
func (c *Client) ListTelemetryExport(filter types.FlightFilter) ([]types.TelemetryExportRow, error) {
	query := `
		SELECT t.flight_id, f.icao, t.timestamp, t.latitude, t.longitude, t.altitude, t.ground_speed
		FROM flight_telemetry t
		JOIN flights f ON f.id = t.flight_id
		WHERE TRUE`
	query, args := applyFilter(query, filter)
	query += " ORDER BY f.icao, t.timestamp"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var out []types.TelemetryExportRow
	for rows.Next() {
		var (
			r   types.TelemetryExportRow
			alt sql.NullInt64
			gs  sql.NullFloat64
		)
		if err := rows.Scan(&r.FlightID, &r.ICAO, &r.Timestamp, &r.Latitude, &r.Longitude, &alt, &gs); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		if alt.Valid {
			v := int(alt.Int64)
			r.Altitude = &v
		}
		if gs.Valid {
			v := gs.Float64
			r.GroundSpeed = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func applyFilter(query string, filter types.FlightFilter) (string, []any) {
	var args []any
	if filter.ICAO != "" {
		args = append(args, filter.ICAO)
		query += fmt.Sprintf(" AND f.icao = $%d", len(args))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, parser.StartOfDay(filter.StartDate))
		query += fmt.Sprintf(" AND f.start_time >= $%d", len(args))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, parser.EndOfDay(filter.EndDate))
		query += fmt.Sprintf(" AND f.start_time <= $%d", len(args))
	}
	return query, args
}

// StoreSyncRun records the counters of a finished tracker run
func (c *Client) StoreSyncRun(run *types.SyncRun) error {
	_, err := c.db.Exec(`
		INSERT INTO sync_runs (
			run_id, mode, started_at, finished_at, fetches, fetch_failures, legs,
			inserted, updated, unchanged, telemetry_points, matched, unmatched
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			fetches = EXCLUDED.fetches,
			fetch_failures = EXCLUDED.fetch_failures,
			legs = EXCLUDED.legs,
			inserted = EXCLUDED.inserted,
			updated = EXCLUDED.updated,
			unchanged = EXCLUDED.unchanged,
			telemetry_points = EXCLUDED.telemetry_points,
			matched = EXCLUDED.matched,
			unmatched = EXCLUDED.unmatched
	`,
		run.RunID, run.Mode, run.StartedAt, run.FinishedAt,
		int64(run.Fetches), int64(run.FetchFailures), int64(run.Legs),
		int64(run.Inserted), int64(run.Updated), int64(run.Unchanged),
		int64(run.TelemetryPoints), int64(run.Matched), int64(run.Unmatched),
	)
	if err != nil {
		return fmt.Errorf("failed to store sync run: %w", err)
	}
	return nil
}
