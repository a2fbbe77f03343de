package fetcher

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/saviobatista/heli-tracker/internal/parser"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// Cache lifetimes
const (
	PastTraceTTL  = 7 * 24 * time.Hour
	TodayTraceTTL = 10 * time.Minute
	NoDataTTL     = time.Hour
)

// TraceCache stores traces and "no data" markers per aircraft and date
type TraceCache interface {
	GetTrace(ctx context.Context, icao string, date time.Time) (*types.RawTrace, error)
	StoreTrace(ctx context.Context, icao string, date time.Time, trace *types.RawTrace, ttl time.Duration) error
	HasNoData(ctx context.Context, icao string, date time.Time) (bool, error)
	MarkNoData(ctx context.Context, icao string, date time.Time, ttl time.Duration) error
	Invalidate(ctx context.Context, icao string, date time.Time) error
}

// CachingFetcher serves traces from a cache and falls back to another Fetcher.
// Cache failures are logged and never fail a fetch.
type CachingFetcher struct {
	next  Fetcher
	cache TraceCache
	now   func() time.Time
}

// NewCachingFetcher wraps next with cache
func NewCachingFetcher(next Fetcher, cache TraceCache) *CachingFetcher {
	return &CachingFetcher{next: next, cache: cache, now: time.Now}
}

// Fetch implements Fetcher
func (f *CachingFetcher) Fetch(ctx context.Context, icao string, date time.Time) (*types.RawTrace, error) {
	noData, err := f.cache.HasNoData(ctx, icao, date)
	if err != nil {
		log.Printf("Warning: trace cache lookup failed for %s: %v", icao, err)
	} else if noData {
		return nil, ErrNoTraceData
	}

	trace, err := f.cache.GetTrace(ctx, icao, date)
	if err != nil {
		log.Printf("Warning: dropping unreadable cached trace for %s on %s: %v", icao, date.Format(parser.DateLayout), err)
		if err := f.cache.Invalidate(ctx, icao, date); err != nil {
			log.Printf("Warning: failed to invalidate cached trace: %v", err)
		}
	} else if trace != nil {
		return trace, nil
	}

	trace, err = f.next.Fetch(ctx, icao, date)
	if errors.Is(err, ErrNoTraceData) {
		if err := f.cache.MarkNoData(ctx, icao, date, NoDataTTL); err != nil {
			log.Printf("Warning: failed to cache no-data marker for %s: %v", icao, err)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := f.cache.StoreTrace(ctx, icao, date, trace, f.ttl(date)); err != nil {
		log.Printf("Warning: failed to cache trace for %s: %v", icao, err)
	}
	return trace, nil
}

// ttl keeps the current day short-lived since its trace is still growing
func (f *CachingFetcher) ttl(date time.Time) time.Duration {
	if parser.StartOfDay(date).Before(parser.StartOfDay(f.now())) {
		return PastTraceTTL
	}
	return TodayTraceTTL
}
