package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saviobatista/heli-tracker/internal/parser"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// ErrNoTraceData is returned when the site has no trace for an aircraft and date
var ErrNoTraceData = errors.New("no trace data found")

const (
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxTraceSize = 64 << 20
)

// Fetcher retrieves the trace of one aircraft for one UTC date
type Fetcher interface {
	Fetch(ctx context.Context, icao string, date time.Time) (*types.RawTrace, error)
}

// HTTPFetcher downloads traces from an ADS-B Exchange compatible site
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewHTTPFetcher creates a fetcher for baseURL with a per-request timeout
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// TraceURLs returns the candidate URLs for a trace in order of preference.
// Past dates live in the daily history archive; the current day is only
// published as a live full trace and a shorter recent trace.
func (f *HTTPFetcher) TraceURLs(icao string, date time.Time) []string {
	icao = strings.ToLower(icao)
	bucket := icao[len(icao)-2:]
	date = parser.StartOfDay(date)

	if !date.Before(parser.StartOfDay(f.now())) {
		return []string{
			fmt.Sprintf("%s/data/traces/%s/trace_full_%s.json", f.baseURL, bucket, icao),
			fmt.Sprintf("%s/data/traces/%s/trace_recent_%s.json", f.baseURL, bucket, icao),
		}
	}
	return []string{
		fmt.Sprintf("%s/globe_history/%s/traces/%s/trace_full_%s.json",
			f.baseURL, date.Format("2006/01/02"), bucket, icao),
	}
}

// Fetch downloads and decodes the trace. A missing trace, or a payload
// without a trace array, yields ErrNoTraceData.
func (f *HTTPFetcher) Fetch(ctx context.Context, icao string, date time.Time) (*types.RawTrace, error) {
	if len(icao) < 2 {
		return nil, fmt.Errorf("invalid ICAO hex code %q", icao)
	}

	var lastErr error = ErrNoTraceData
	for _, url := range f.TraceURLs(icao, date) {
		data, err := f.get(ctx, url, icao)
		if errors.Is(err, ErrNoTraceData) {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}

		if !parser.HasTrace(data) {
			continue
		}
		trace, err := parser.ParseTrace(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode trace for %s on %s: %w", icao, date.Format(parser.DateLayout), err)
		}
		if trace.ICAO == "" {
			trace.ICAO = strings.ToLower(icao)
		}
		return trace, nil
	}
	return nil, lastErr
}

func (f *HTTPFetcher) get(ctx context.Context, url, icao string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", fmt.Sprintf("%s/?icao=%s", f.baseURL, icao))
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoTraceData
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTraceSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read trace body: %w", err)
	}
	return data, nil
}
