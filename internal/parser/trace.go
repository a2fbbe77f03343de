package parser

import (
	"encoding/json"
	"fmt"

	"github.com/saviobatista/heli-tracker/internal/types"
)

// ParseTrace decodes a raw trace payload. A payload without a trace array
// decodes to a trace with no samples.
func ParseTrace(data []byte) (*types.RawTrace, error) {
	var trace types.RawTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}
	return &trace, nil
}

// HasTrace reports whether the payload carries a "trace" key at all
func HasTrace(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, ok := fields["trace"]
	return ok
}

// DecodeSample converts a raw sample into a telemetry point
func DecodeSample(base float64, s types.RawTraceSample) types.TelemetryPoint {
	p := types.TelemetryPoint{
		Timestamp:         types.TraceTime(base, s.Offset),
		Latitude:          s.Latitude,
		Longitude:         s.Longitude,
		AltitudeGround:    s.AltitudeGround,
		GroundSpeed:       s.GroundSpeed,
		Track:             s.Track,
		VerticalRate:      s.VerticalRate,
		Flags:             s.Flags,
		GeoAltitude:       s.GeoAltitude,
		GeoVerticalRate:   s.GeoVerticalRate,
		IndicatedAirspeed: s.IndicatedAirspeed,
		RollAngle:         s.RollAngle,
	}
	if !s.AltitudeGround {
		p.Altitude = s.Altitude
	}
	return p
}
