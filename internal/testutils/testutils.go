package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/saviobatista/heli-tracker/internal/types"
)

// MockTrace builds a trace with one sample per offset. Samples drift north a
// little each step and carry a fixed altitude.
func MockTrace(base float64, offsets ...float64) *types.RawTrace {
	trace := &types.RawTrace{
		ICAO:      "ad389e",
		Timestamp: base,
		Samples:   make([]types.RawTraceSample, 0, len(offsets)),
	}
	for i, off := range offsets {
		alt := 1000 + i*10
		trace.Samples = append(trace.Samples, types.RawTraceSample{
			Offset:    off,
			Latitude:  41.8 + float64(i)*0.001,
			Longitude: -87.6,
			Altitude:  &alt,
		})
	}
	return trace
}

// MockTracePayload renders a trace in the JSON wire format
func MockTracePayload(icao string, base int64, offsets ...int) string {
	samples := ""
	for i, off := range offsets {
		if i > 0 {
			samples += ","
		}
		samples += fmt.Sprintf("[%d,41.8,-87.6,%d,100.0,180.0,0,0,null,\"adsb_icao\",null,null,null,null]", off, 1000+i)
	}
	return fmt.Sprintf(`{"icao":"%s","timestamp":%d,"trace":[%s]}`, icao, base, samples)
}

// MockTelemetry returns n telemetry points one second apart
func MockTelemetry(start time.Time, n int) []types.TelemetryPoint {
	points := make([]types.TelemetryPoint, n)
	for i := range points {
		alt := 500 + i
		points[i] = types.TelemetryPoint{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Latitude:  41.8,
			Longitude: -87.6,
			Altitude:  &alt,
		}
	}
	return points
}

// MockFlight creates a stored flight for testing
func MockFlight(id int64, icao string, start time.Time, duration time.Duration) *types.Flight {
	return &types.Flight{
		ID:        id,
		ICAO:      icao,
		StartTime: start,
		EndTime:   start.Add(duration),
		CreatedAt: start,
		UpdatedAt: start,
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
