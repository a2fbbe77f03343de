package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/saviobatista/heli-tracker/internal/config"
	"github.com/saviobatista/heli-tracker/internal/db"
	"github.com/saviobatista/heli-tracker/internal/export"
	"github.com/saviobatista/heli-tracker/internal/parser"
	"github.com/saviobatista/heli-tracker/internal/types"
)

type options struct {
	icao      string
	startDate string
	endDate   string
	formats   string
	dir       string
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringVar(&o.icao, "icao", "", "Only export this aircraft")
	fs.StringVar(&o.startDate, "start-date", "", "First day to export (YYYY-MM-DD)")
	fs.StringVar(&o.endDate, "end-date", "", "Last day to export (YYYY-MM-DD)")
	fs.StringVar(&o.formats, "format", export.DefaultFormats, "Comma separated output formats (parquet, csv, xlsx)")
	fs.StringVar(&o.dir, "dir", "", "Output directory; defaults to EXPORT_DIR")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// filter converts the flags into a flight filter
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
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		return filter, fmt.Errorf("end date %s is before start date %s", o.endDate, o.startDate)
	}
	return filter, nil
}

// exportData writes the selected rows and logs what was produced
func exportData(src export.Source, o *options, dir string) (*export.Result, error) {
	filter, err := o.filter()
	if err != nil {
		return nil, err
	}
	formats, err := export.ParseFormats(o.formats)
	if err != nil {
		return nil, err
	}

	result, err := export.Export(src, dir, filter, formats)
	if err != nil {
		return nil, err
	}
	log.Printf("Exported %d flights and %d telemetry points", result.Flights, result.TelemetryPoints)
	for _, file := range result.Files {
		log.Printf("Wrote %s", file)
	}
	return result, nil
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
	dir := o.dir
	if dir == "" {
		dir = cfg.ExportDir
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

	_, err = exportData(dbClient, o, dir)
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
