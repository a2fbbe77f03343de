package export

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/saviobatista/heli-tracker/internal/types"
	"github.com/xuri/excelize/v2"
)

// Format is an export file format
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
)

// DefaultFormats is written when no format is requested
const DefaultFormats = "parquet,csv,xlsx"

// Output file names
const (
	FlightsParquet   = "flights.parquet"
	TelemetryParquet = "telemetry.parquet"
	FlightsCSV       = "flights.csv.gz"
	TelemetryCSV     = "telemetry.csv.gz"
	WorkbookXLSX     = "flights.xlsx"
)

// Sheet names of the workbook. Telemetry that does not fit one sheet
// continues on Telemetry_2, Telemetry_3 and so on.
const (
	SheetFlights   = "Flights"
	SheetTelemetry = "Telemetry"
)

// maxSheetRows is the number of rows a worksheet holds, header included
var maxSheetRows = excelize.TotalRows

// timeLayout keeps the sub-second part of trace timestamps
const timeLayout = time.RFC3339Nano

var (
	flightHeader    = []string{"id", "icao", "start_time", "end_time", "duration_seconds", "telemetry_points"}
	telemetryHeader = []string{"flight_id", "icao", "timestamp", "latitude", "longitude", "altitude", "ground_speed"}
)

// Source provides the rows to export
type Source interface {
	ListFlightSummaries(filter types.FlightFilter) ([]types.FlightSummary, error)
	ListTelemetryExport(filter types.FlightFilter) ([]types.TelemetryExportRow, error)
}

// Result describes a finished export
type Result struct {
	Flights         int
	TelemetryPoints int
	Files           []string
}

// ParseFormats parses a comma separated format list such as "csv,xlsx"
func ParseFormats(s string) ([]Format, error) {
	var formats []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" || seen[f] {
			continue
		}
		if f != FormatParquet && f != FormatCSV && f != FormatXLSX {
			return nil, fmt.Errorf("unknown export format %q", part)
		}
		seen[f] = true
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no export format given")
	}
	return formats, nil
}

// Export writes the flights and telemetry matching filter to dir in each format
func Export(src Source, dir string, filter types.FlightFilter, formats []Format) (*Result, error) {
	flights, err := src.ListFlightSummaries(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	rows, err := src.ListTelemetryExport(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	result := &Result{Flights: len(flights), TelemetryPoints: len(rows)}
	for _, format := range formats {
		switch format {
		case FormatParquet:
			path := filepath.Join(dir, FlightsParquet)
			if err := WriteFlightsParquet(path, flights); err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)

			path = filepath.Join(dir, TelemetryParquet)
			if err := WriteTelemetryParquet(path, rows); err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)
		case FormatCSV:
			path := filepath.Join(dir, FlightsCSV)
			if err := writeGzip(path, func(w io.Writer) error { return WriteFlightsCSV(w, flights) }); err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)

			path = filepath.Join(dir, TelemetryCSV)
			if err := writeGzip(path, func(w io.Writer) error { return WriteTelemetryCSV(w, rows) }); err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)
		case FormatXLSX:
			path := filepath.Join(dir, WorkbookXLSX)
			if err := WriteXLSX(path, flights, rows); err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)
		default:
			return nil, fmt.Errorf("unknown export format %q", format)
		}
	}
	return result, nil
}

func writeGzip(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := write(gz); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	return file.Close()
}

func flightRecord(f types.FlightSummary) []string {
	return []string{
		strconv.FormatInt(f.ID, 10),
		f.ICAO,
		f.StartTime.UTC().Format(timeLayout),
		f.EndTime.UTC().Format(timeLayout),
		strconv.FormatInt(int64(f.Duration/time.Second), 10),
		strconv.Itoa(f.TelemetryPoints),
	}
}

func telemetryRecord(r types.TelemetryExportRow) []string {
	altitude := ""
	if r.Altitude != nil {
		altitude = strconv.Itoa(*r.Altitude)
	}
	speed := ""
	if r.GroundSpeed != nil {
		speed = strconv.FormatFloat(*r.GroundSpeed, 'f', -1, 64)
	}
	return []string{
		strconv.FormatInt(r.FlightID, 10),
		r.ICAO,
		r.Timestamp.UTC().Format(timeLayout),
		strconv.FormatFloat(r.Latitude, 'f', -1, 64),
		strconv.FormatFloat(r.Longitude, 'f', -1, 64),
		altitude,
		speed,
	}
}

// WriteFlightsCSV writes one CSV row per flight
func WriteFlightsCSV(w io.Writer, flights []types.FlightSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(flightHeader); err != nil {
		return err
	}
	for _, f := range flights {
		if err := cw.Write(flightRecord(f)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTelemetryCSV writes one CSV row per telemetry point. Missing
// altitude and ground speed are left empty.
func WriteTelemetryCSV(w io.Writer, rows []types.TelemetryExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(telemetryHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(telemetryRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// WriteXLSX writes a workbook with a Flights sheet and as many Telemetry
// sheets as the telemetry rows need.
func WriteXLSX(path string, flights []types.FlightSummary, rows []types.TelemetryExportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetFlights); err != nil {
		return fmt.Errorf("failed to name flights sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetFlights, "A1", &flightHeader); err != nil {
		return fmt.Errorf("failed to write flights header: %w", err)
	}
	for i, flight := range flights {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			flight.ID,
			flight.ICAO,
			flight.StartTime.UTC().Format(timeLayout),
			flight.EndTime.UTC().Format(timeLayout),
			int64(flight.Duration / time.Second),
			flight.TelemetryPoints,
		}
		if err := f.SetSheetRow(SheetFlights, cell, &row); err != nil {
			return fmt.Errorf("failed to write flight %d: %w", flight.ID, err)
		}
	}

	perSheet := maxSheetRows - 1
	for n, offset := 1, 0; n == 1 || offset < len(rows); n++ {
		last := min(offset+perSheet, len(rows))
		if err := writeTelemetrySheet(f, TelemetrySheetName(n), rows[offset:last]); err != nil {
			return err
		}
		offset = last
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// TelemetrySheetName returns the name of the n-th telemetry sheet, counting from 1
func TelemetrySheetName(n int) string {
	if n <= 1 {
		return SheetTelemetry
	}
	return fmt.Sprintf("%s_%d", SheetTelemetry, n)
}

// writeTelemetrySheet streams rows into a new sheet below a header row
func writeTelemetrySheet(f *excelize.File, sheet string, rows []types.TelemetryExportRow) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet %s: %w", sheet, err)
	}
	if err := sw.SetRow("A1", toCells(telemetryHeader)); err != nil {
		return fmt.Errorf("failed to write telemetry header: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		var altitude, speed any
		if r.Altitude != nil {
			altitude = *r.Altitude
		}
		if r.GroundSpeed != nil {
			speed = *r.GroundSpeed
		}
		row := []any{r.FlightID, r.ICAO, r.Timestamp.UTC().Format(timeLayout), r.Latitude, r.Longitude, altitude, speed}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write telemetry row: %w", err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet %s: %w", sheet, err)
	}
	return nil
}

// FlightRow is the columnar layout of an exported flight
type FlightRow struct {
	ID              int64     `parquet:"id"`
	ICAO            string    `parquet:"icao"`
	StartTime       time.Time `parquet:"start_time,timestamp(microsecond)"`
	EndTime         time.Time `parquet:"end_time,timestamp(microsecond)"`
	DurationSeconds float64   `parquet:"duration_seconds"`
	TelemetryPoints int64     `parquet:"telemetry_points"`
}

// WriteFlightsParquet writes the flights as a snappy-compressed Parquet file
func WriteFlightsParquet(path string, flights []types.FlightSummary) error {
	rows := make([]FlightRow, len(flights))
	for i, f := range flights {
		rows[i] = FlightRow{
			ID:              f.ID,
			ICAO:            f.ICAO,
			StartTime:       f.StartTime.UTC(),
			EndTime:         f.EndTime.UTC(),
			DurationSeconds: f.Duration.Seconds(),
			TelemetryPoints: int64(f.TelemetryPoints),
		}
	}
	if err := parquet.WriteFile(path, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteTelemetryParquet writes the telemetry as a snappy-compressed Parquet
// file. Missing altitude and ground speed are stored as nulls.
func WriteTelemetryParquet(path string, rows []types.TelemetryExportRow) error {
	if err := parquet.WriteFile(path, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
