package tracker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/saviobatista/heli-tracker/internal/types"
)

// CSV backfill columns
const (
	ColumnDate      = "Date"
	ColumnStartTime = "Start Time (UTC)"
	ColumnEndTime   = "End Time (UTC)"
)

const csvTimeLayout = "2006-01-02 15:04:05"

// ErrUnknownICAO is returned when a backfill file names no aircraft and none was given
var ErrUnknownICAO = errors.New("could not determine ICAO code")

var filenameICAO = regexp.MustCompile(`^([a-f0-9]{6})_`)

// ExtractICAOFromFilename returns the aircraft prefix of names like
// "ad389e_flights.csv", or "" when there is none.
func ExtractICAOFromFilename(name string) string {
	m := filenameICAO.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseCSV reads flight rows of the form
//
//	Date,Start Time (UTC),End Time (UTC)
//	2025-12-16,18:43:54,20:05:07
//
// An end time earlier than its start time belongs to the following day.
func ParseCSV(r io.Reader, icao string) ([]types.FlightRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range []string{ColumnDate, ColumnStartTime, ColumnEndTime} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing CSV column %q", name)
		}
	}

	var records []types.FlightRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		date := strings.TrimSpace(row[cols[ColumnDate]])
		start, err := time.ParseInLocation(csvTimeLayout, date+" "+strings.TrimSpace(row[cols[ColumnStartTime]]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid start time on line %d: %w", line, err)
		}
		end, err := time.ParseInLocation(csvTimeLayout, date+" "+strings.TrimSpace(row[cols[ColumnEndTime]]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid end time on line %d: %w", line, err)
		}
		if end.Before(start) {
			end = end.AddDate(0, 0, 1)
		}

		records = append(records, types.FlightRecord{ICAO: icao, StartTime: start, EndTime: end})
	}
	return records, nil
}

// BackfillFromCSV upserts the flights listed in a CSV file. When icao is
// empty it is taken from the file name.
func (t *Tracker) BackfillFromCSV(path, icao string) (types.UpsertCounts, error) {
	var counts types.UpsertCounts

	if icao == "" {
		icao = ExtractICAOFromFilename(filepath.Base(path))
		if icao == "" {
			return counts, fmt.Errorf("%w from file name %q", ErrUnknownICAO, filepath.Base(path))
		}
		log.Printf("Detected ICAO from filename: %s", icao)
	}

	f, err := os.Open(path)
	if err != nil {
		return counts, fmt.Errorf("failed to open backfill file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing backfill file: %v\n", err)
		}
	}()

	log.Printf("Backfilling from %s for aircraft %s...", path, icao)
	records, err := ParseCSV(f, icao)
	if err != nil {
		return counts, err
	}
	log.Printf("Parsed %d flights from CSV", len(records))
	if len(records) == 0 {
		return counts, nil
	}

	counts, err = t.db.UpsertFlights(records)
	if err != nil {
		return counts, fmt.Errorf("failed to upsert flights: %w", err)
	}
	for action, n := range map[types.UpsertAction]int{
		types.ActionInserted:  counts.Inserted,
		types.ActionUpdated:   counts.Updated,
		types.ActionUnchanged: counts.Unchanged,
	} {
		for i := 0; i < n; i++ {
			t.stats.RecordUpsert(action)
		}
	}

	log.Printf("Results: %d inserted, %d updated, %d unchanged", counts.Inserted, counts.Updated, counts.Unchanged)
	return counts, nil
}
