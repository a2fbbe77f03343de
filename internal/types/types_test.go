package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRawTraceSample_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, s RawTraceSample)
	}{
		{
			name: "minimal sample",
			raw:  `[12, 41.8, -87.6]`,
			check: func(t *testing.T, s RawTraceSample) {
				if s.Offset != 12 || s.Latitude != 41.8 || s.Longitude != -87.6 {
					t.Errorf("unexpected position: %+v", s)
				}
				if s.Altitude != nil || s.AltitudeGround {
					t.Errorf("expected no altitude, got %v ground=%v", s.Altitude, s.AltitudeGround)
				}
				if s.GroundSpeed != nil || s.RollAngle != nil {
					t.Error("expected optional fields to be nil")
				}
			},
		},
		{
			name: "ground altitude",
			raw:  `[0, 41.8, -87.6, "ground", null, 90.5]`,
			check: func(t *testing.T, s RawTraceSample) {
				if !s.AltitudeGround {
					t.Error("expected AltitudeGround to be true")
				}
				if s.Altitude != nil {
					t.Errorf("expected nil altitude, got %d", *s.Altitude)
				}
				if s.GroundSpeed != nil {
					t.Error("expected nil ground speed")
				}
				if s.Track == nil || *s.Track != 90.5 {
					t.Errorf("expected track 90.5, got %v", s.Track)
				}
			},
		},
		{
			name: "full sample",
			raw:  `[5.5, 41.8, -87.6, 1025, 110.2, 270.1, 2, -640, {"type":"adsb_icao"}, "adsb_icao", 1150, -576, 95, -3.2]`,
			check: func(t *testing.T, s RawTraceSample) {
				if s.Altitude == nil || *s.Altitude != 1025 {
					t.Errorf("expected altitude 1025, got %v", s.Altitude)
				}
				if s.AltitudeGround {
					t.Error("expected AltitudeGround to be false")
				}
				if s.Flags == nil || *s.Flags != 2 {
					t.Errorf("expected flags 2, got %v", s.Flags)
				}
				if s.VerticalRate == nil || *s.VerticalRate != -640 {
					t.Errorf("expected vertical rate -640, got %v", s.VerticalRate)
				}
				if s.GeoAltitude == nil || *s.GeoAltitude != 1150 {
					t.Errorf("expected geo altitude 1150, got %v", s.GeoAltitude)
				}
				if s.GeoVerticalRate == nil || *s.GeoVerticalRate != -576 {
					t.Errorf("expected geo vertical rate -576, got %v", s.GeoVerticalRate)
				}
				if s.IndicatedAirspeed == nil || *s.IndicatedAirspeed != 95 {
					t.Errorf("expected ias 95, got %v", s.IndicatedAirspeed)
				}
				if s.RollAngle == nil || *s.RollAngle != -3.2 {
					t.Errorf("expected roll -3.2, got %v", s.RollAngle)
				}
			},
		},
		{
			name:    "too few fields",
			raw:     `[0, 41.8]`,
			wantErr: true,
		},
		{
			name:    "not an array",
			raw:     `{"offset": 0}`,
			wantErr: true,
		},
		{
			name:    "non-numeric offset",
			raw:     `["x", 41.8, -87.6]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s RawTraceSample
			err := json.Unmarshal([]byte(tt.raw), &s)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestRawTrace_UnmarshalJSON(t *testing.T) {
	payload := `{"icao":"ad389e","timestamp":1700000000.0,"trace":[[0,41.8,-87.6,1000],[60,41.81,-87.61,"ground"]]}`

	var trace RawTrace
	if err := json.Unmarshal([]byte(payload), &trace); err != nil {
		t.Fatalf("Failed to unmarshal RawTrace: %v", err)
	}

	if trace.ICAO != "ad389e" {
		t.Errorf("ICAO mismatch: got %s", trace.ICAO)
	}
	if trace.Timestamp != 1700000000 {
		t.Errorf("Timestamp mismatch: got %v", trace.Timestamp)
	}
	if len(trace.Samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(trace.Samples))
	}
	if !trace.Samples[1].AltitudeGround {
		t.Error("Expected second sample on ground")
	}
}

func TestTraceTime(t *testing.T) {
	tests := []struct {
		name   string
		base   float64
		offset float64
		want   time.Time
	}{
		{"whole seconds", 1700000000, 120, time.Unix(1700000120, 0).UTC()},
		{"fractional offset", 1700000000, 1.5, time.Unix(1700000001, 500000000).UTC()},
		{"zero", 0, 0, time.Unix(0, 0).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TraceTime(tt.base, tt.offset)
			if !got.Equal(tt.want) {
				t.Errorf("TraceTime() = %v, want %v", got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("expected UTC location, got %v", got.Location())
			}
		})
	}
}

func TestUpsertCounts_Add(t *testing.T) {
	var c UpsertCounts
	c.Add(ActionInserted)
	c.Add(ActionInserted)
	c.Add(ActionUpdated)
	c.Add(ActionUnchanged)
	c.Add(UpsertAction("bogus"))

	if c.Inserted != 2 || c.Updated != 1 || c.Unchanged != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.Total() != 4 {
		t.Errorf("expected total 4, got %d", c.Total())
	}
}

func TestFlightEvent_JSON(t *testing.T) {
	evt := FlightEvent{
		Action:         ActionUpdated,
		FlightID:       42,
		ICAO:           "ad3c55",
		StartTime:      time.Date(2025, 3, 20, 14, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 3, 20, 15, 30, 0, 0, time.UTC),
		TelemetryCount: 300,
		RunID:          "run-1",
	}

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("Failed to marshal FlightEvent: %v", err)
	}

	var decoded FlightEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal FlightEvent: %v", err)
	}

	if decoded.Action != evt.Action || decoded.FlightID != evt.FlightID || decoded.ICAO != evt.ICAO {
		t.Errorf("FlightEvent mismatch: got %+v, want %+v", decoded, evt)
	}
	if !decoded.StartTime.Equal(evt.StartTime) || !decoded.EndTime.Equal(evt.EndTime) {
		t.Errorf("FlightEvent times mismatch: got %+v", decoded)
	}
}

func TestRawTraceSample_MarshalJSON(t *testing.T) {
	gs := 88.5
	trace := RawTrace{
		ICAO:      "ad389e",
		Timestamp: 1700000000,
		Samples: []RawTraceSample{
			{Offset: 0, Latitude: 41.8, Longitude: -87.6, AltitudeGround: true},
			{Offset: 12.5, Latitude: 41.81, Longitude: -87.61, GroundSpeed: &gs},
		},
	}

	data, err := json.Marshal(trace)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `[0,41.8,-87.6,"ground",null`) {
		t.Errorf("Expected positional ground sample, got %s", data)
	}

	var decoded RawTrace
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !decoded.Samples[0].AltitudeGround || decoded.Samples[1].Altitude != nil {
		t.Errorf("Altitude state not preserved: %+v", decoded.Samples)
	}
	if decoded.Samples[1].GroundSpeed == nil || *decoded.Samples[1].GroundSpeed != 88.5 {
		t.Errorf("Ground speed not preserved: %v", decoded.Samples[1].GroundSpeed)
	}
}
