package parser

import (
	"time"

	"github.com/saviobatista/heli-tracker/internal/types"
)

// DefaultGapThreshold is the silence after which a trace is split into a new leg
const DefaultGapThreshold = 300 * time.Second

// SegmentLegs splits a trace into flight legs. Consecutive samples more than
// gap apart (strictly) belong to different legs. A non-positive gap uses
// DefaultGapThreshold.
func SegmentLegs(trace *types.RawTrace, gap time.Duration) []types.FlightLeg {
	if trace == nil || len(trace.Samples) == 0 {
		return []types.FlightLeg{}
	}
	if gap <= 0 {
		gap = DefaultGapThreshold
	}
	threshold := gap.Seconds()
	samples := trace.Samples

	var legs []types.FlightLeg
	start, end := 0, 0
	for i := 1; i < len(samples); i++ {
		if samples[i].Offset-samples[i-1].Offset > threshold {
			legs = append(legs, buildLeg(trace.Timestamp, samples[start:end+1]))
			start = i
		}
		end = i
	}
	legs = append(legs, buildLeg(trace.Timestamp, samples[start:end+1]))

	return legs
}

func buildLeg(base float64, samples []types.RawTraceSample) types.FlightLeg {
	telemetry := make([]types.TelemetryPoint, len(samples))
	for i, s := range samples {
		telemetry[i] = DecodeSample(base, s)
	}
	return types.FlightLeg{
		StartTime: telemetry[0].Timestamp,
		EndTime:   telemetry[len(telemetry)-1].Timestamp,
		Telemetry: telemetry,
	}
}

// FilterLegsByDateRange keeps legs whose start date (UTC) falls within
// [start, end]. A zero end defaults to start. The comparison is made on the
// leg's start time truncated to midnight, not on the instant itself.
func FilterLegsByDateRange(legs []types.FlightLeg, start, end time.Time) []types.FlightLeg {
	lower := StartOfDay(start)
	if end.IsZero() {
		end = start
	}
	upper := EndOfDay(end)

	filtered := []types.FlightLeg{}
	for _, leg := range legs {
		day := StartOfDay(leg.StartTime)
		if !day.Before(lower) && !day.After(upper) {
			filtered = append(filtered, leg)
		}
	}
	return filtered
}

// MatchLeg finds the leg whose start time is nearest to start. It returns
// the leg index and the absolute difference; ok is false when there are no
// legs or the nearest one is further than tolerance. Ties keep the first leg.
func MatchLeg(start time.Time, legs []types.FlightLeg, tolerance time.Duration) (int, time.Duration, bool) {
	best := -1
	var bestDiff time.Duration
	for i, leg := range legs {
		diff := leg.StartTime.Sub(start)
		if diff < 0 {
			diff = -diff
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	if best == -1 {
		return -1, 0, false
	}
	return best, bestDiff, bestDiff <= tolerance
}
