package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// GroundAltitude is the altitude sentinel used by trace samples for an aircraft on the ground
const GroundAltitude = "ground"

// RawTrace is a trace payload as published by the flight-tracking site
type RawTrace struct {
	ICAO      string           `json:"icao"`
	Timestamp float64          `json:"timestamp"`
	Samples   []RawTraceSample `json:"trace"`
}

// RawTraceSample is one position report of a trace. Optional fields are nil when absent.
type RawTraceSample struct {
	Offset            float64
	Latitude          float64
	Longitude         float64
	Altitude          *int
	AltitudeGround    bool
	GroundSpeed       *float64
	Track             *float64
	Flags             *int
	VerticalRate      *int
	GeoAltitude       *int
	GeoVerticalRate   *int
	IndicatedAirspeed *int
	RollAngle         *float64
}

// Slot positions inside a trace sample array. Slots 8 and 9 are not used.
const (
	slotOffset = iota
	slotLatitude
	slotLongitude
	slotAltitude
	slotGroundSpeed
	slotTrack
	slotFlags
	slotVerticalRate
	_
	_
	slotGeoAltitude
	slotGeoVerticalRate
	slotIAS
	slotRoll
)

// UnmarshalJSON decodes the positional array form of a trace sample
func (s *RawTraceSample) UnmarshalJSON(data []byte) error {
	var slots []json.RawMessage
	if err := json.Unmarshal(data, &slots); err != nil {
		return fmt.Errorf("failed to decode trace sample: %w", err)
	}
	if len(slots) <= slotLongitude {
		return fmt.Errorf("invalid trace sample: expected at least 3 fields, got %d", len(slots))
	}

	var out RawTraceSample
	if err := json.Unmarshal(slots[slotOffset], &out.Offset); err != nil {
		return fmt.Errorf("invalid trace sample offset: %w", err)
	}
	if err := json.Unmarshal(slots[slotLatitude], &out.Latitude); err != nil {
		return fmt.Errorf("invalid trace sample latitude: %w", err)
	}
	if err := json.Unmarshal(slots[slotLongitude], &out.Longitude); err != nil {
		return fmt.Errorf("invalid trace sample longitude: %w", err)
	}

	if raw := slotAt(slots, slotAltitude); raw != nil {
		var ground string
		if err := json.Unmarshal(raw, &ground); err == nil {
			out.AltitudeGround = ground == GroundAltitude
		} else {
			out.Altitude = decodeInt(raw)
		}
	}

	out.GroundSpeed = decodeFloat(slotAt(slots, slotGroundSpeed))
	out.Track = decodeFloat(slotAt(slots, slotTrack))
	out.Flags = decodeInt(slotAt(slots, slotFlags))
	out.VerticalRate = decodeInt(slotAt(slots, slotVerticalRate))
	out.GeoAltitude = decodeInt(slotAt(slots, slotGeoAltitude))
	out.GeoVerticalRate = decodeInt(slotAt(slots, slotGeoVerticalRate))
	out.IndicatedAirspeed = decodeInt(slotAt(slots, slotIAS))
	out.RollAngle = decodeFloat(slotAt(slots, slotRoll))

	*s = out
	return nil
}

// MarshalJSON encodes the sample back into its positional array form
func (s RawTraceSample) MarshalJSON() ([]byte, error) {
	slots := make([]any, slotRoll+1)
	slots[slotOffset] = s.Offset
	slots[slotLatitude] = s.Latitude
	slots[slotLongitude] = s.Longitude
	switch {
	case s.AltitudeGround:
		slots[slotAltitude] = GroundAltitude
	case s.Altitude != nil:
		slots[slotAltitude] = *s.Altitude
	}
	slots[slotGroundSpeed] = s.GroundSpeed
	slots[slotTrack] = s.Track
	slots[slotFlags] = s.Flags
	slots[slotVerticalRate] = s.VerticalRate
	slots[slotGeoAltitude] = s.GeoAltitude
	slots[slotGeoVerticalRate] = s.GeoVerticalRate
	slots[slotIAS] = s.IndicatedAirspeed
	slots[slotRoll] = s.RollAngle
	return json.Marshal(slots)
}

// slotAt returns the raw value at index i, or nil if it is missing or null
func slotAt(slots []json.RawMessage, i int) json.RawMessage {
	if i >= len(slots) {
		return nil
	}
	if string(slots[i]) == "null" {
		return nil
	}
	return slots[i]
}

func decodeFloat(raw json.RawMessage) *float64 {
	if raw == nil {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func decodeInt(raw json.RawMessage) *int {
	f := decodeFloat(raw)
	if f == nil {
		return nil
	}
	v := int(math.Round(*f))
	return &v
}

// TraceTime converts a trace base timestamp plus a sample offset into a UTC instant
func TraceTime(base, offset float64) time.Time {
	total := base + offset
	sec := math.Floor(total)
	nsec := math.Round((total - sec) * 1e9)
	return time.Unix(int64(sec), int64(nsec)).UTC()
}

// TelemetryPoint is a decoded trace sample with an absolute timestamp
type TelemetryPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Altitude          *int      `json:"altitude"`
	AltitudeGround    bool      `json:"altitude_ground"`
	GroundSpeed       *float64  `json:"ground_speed"`
	Track             *float64  `json:"track"`
	VerticalRate      *int      `json:"vertical_rate"`
	Flags             *int      `json:"flags"`
	GeoAltitude       *int      `json:"geo_altitude"`
	GeoVerticalRate   *int      `json:"geo_vertical_rate"`
	IndicatedAirspeed *int      `json:"ias"`
	RollAngle         *float64  `json:"roll_angle"`
}

// FlightLeg is one continuous stretch of a trace
type FlightLeg struct {
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Telemetry []TelemetryPoint `json:"telemetry,omitempty"`
}

// Flight represents a stored flight leg
type Flight struct {
	ID        int64     `json:"id"`
	ICAO      string    `json:"icao"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FlightRecord is a flight to be reconciled with storage
type FlightRecord struct {
	ICAO      string
	StartTime time.Time
	EndTime   time.Time
	Telemetry []TelemetryPoint
}

// UpsertAction describes what an upsert did to the stored flight
type UpsertAction string

const (
	ActionInserted  UpsertAction = "inserted"
	ActionUpdated   UpsertAction = "updated"
	ActionUnchanged UpsertAction = "unchanged"
)

// UpsertResult is the outcome of reconciling one flight
type UpsertResult struct {
	Action         UpsertAction
	Flight         *Flight
	TelemetryCount int
}

// UpsertCounts aggregates upsert actions over a batch
type UpsertCounts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Add records one action
func (c *UpsertCounts) Add(action UpsertAction) {
	switch action {
	case ActionInserted:
		c.Inserted++
	case ActionUpdated:
		c.Updated++
	case ActionUnchanged:
		c.Unchanged++
	}
}

// Total returns the number of recorded actions
func (c UpsertCounts) Total() int {
	return c.Inserted + c.Updated + c.Unchanged
}

// FlightEvent is published after a flight has been reconciled
type FlightEvent struct {
	Action         UpsertAction `json:"action"`
	FlightID       int64        `json:"flight_id"`
	ICAO           string       `json:"icao"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        time.Time    `json:"end_time"`
	TelemetryCount int          `json:"telemetry_count"`
	RunID          string       `json:"run_id"`
	Timestamp      time.Time    `json:"timestamp"`
}

// FlightSummary is a stored flight with derived export columns
type FlightSummary struct {
	Flight
	Duration        time.Duration `json:"duration"`
	TelemetryPoints int           `json:"telemetry_points"`
}

// TelemetryExportRow is a stored telemetry point joined with its flight's aircraft
type TelemetryExportRow struct {
	FlightID    int64     `json:"flight_id" parquet:"flight_id"`
	ICAO        string    `json:"icao" parquet:"icao"`
	Timestamp   time.Time `json:"timestamp" parquet:"timestamp,timestamp(microsecond)"`
	Latitude    float64   `json:"latitude" parquet:"latitude"`
	Longitude   float64   `json:"longitude" parquet:"longitude"`
	Altitude    *int      `json:"altitude" parquet:"altitude,optional"`
	GroundSpeed *float64  `json:"ground_speed" parquet:"ground_speed,optional"`
}

// FlightFilter narrows flight queries. Zero values disable a condition.
type FlightFilter struct {
	ICAO      string
	StartDate time.Time
	EndDate   time.Time
}

// SyncRun is the persisted record of one tracker run
type SyncRun struct {
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Fetches         uint64    `json:"fetches"`
	FetchFailures   uint64    `json:"fetch_failures"`
	Legs            uint64    `json:"legs"`
	Inserted        uint64    `json:"inserted"`
	Updated         uint64    `json:"updated"`
	Unchanged       uint64    `json:"unchanged"`
	TelemetryPoints uint64    `json:"telemetry_points"`
	Matched         uint64    `json:"matched"`
	Unmatched       uint64    `json:"unmatched"`
}

// SyncSummary is the outcome of syncing a set of aircraft over a date range
type SyncSummary struct {
	Units           int          `json:"units"`
	FailedUnits     int          `json:"failed_units"`
	Legs            int          `json:"legs"`
	Counts          UpsertCounts `json:"counts"`
	TelemetryPoints int          `json:"telemetry_points"`
}

// BackfillSummary is the outcome of a telemetry backfill
type BackfillSummary struct {
	Flights         int `json:"flights"`
	Groups          int `json:"groups"`
	FailedGroups    int `json:"failed_groups"`
	Matched         int `json:"matched"`
	Unmatched       int `json:"unmatched"`
	TelemetryPoints int `json:"telemetry_points"`
}
