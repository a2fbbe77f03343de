package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultTrackedAircraft is used when TRACKED_AIRCRAFT is not set
var DefaultTrackedAircraft = []string{"ad389e", "ad3c55"}

var icaoPattern = regexp.MustCompile(`^[0-9a-f]{6}$`)

// Config holds the application configuration
type Config struct {
	DatabaseURL     string
	TrackedAircraft []string
	TraceBaseURL    string
	FetchTimeout    time.Duration
	GapThreshold    time.Duration
	RedisAddr       string
	NATSURL         string
	PushgatewayURL  string
	ExportDir       string
	OutputDir       string
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	tracked := DefaultTrackedAircraft
	if v := os.Getenv("TRACKED_AIRCRAFT"); v != "" {
		var err error
		if tracked, err = ParseAircraftList(v); err != nil {
			return nil, fmt.Errorf("invalid TRACKED_AIRCRAFT: %w", err)
		}
	}

	fetchTimeout := 15 * time.Second
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid FETCH_TIMEOUT %q", v)
		}
		fetchTimeout = d
	}

	gap := 300 * time.Second
	if v := os.Getenv("GAP_THRESHOLD"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid GAP_THRESHOLD %q: expected positive seconds", v)
		}
		gap = time.Duration(secs) * time.Second
	}

	return &Config{
		DatabaseURL:     DatabaseURL(),
		TrackedAircraft: tracked,
		TraceBaseURL:    getEnv("TRACE_BASE_URL", "https://globe.adsbexchange.com"),
		FetchTimeout:    fetchTimeout,
		GapThreshold:    gap,
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		NATSURL:         os.Getenv("NATS_URL"),
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),
		ExportDir:       getEnv("EXPORT_DIR", "./exports"),
		OutputDir:       getEnv("OUTPUT_DIR", "./logs"),
	}, nil
}

// DatabaseURL returns DB_CONN_STR when set, otherwise a URL built from the
// DB_* component variables.
func DatabaseURL() string {
	if connStr := os.Getenv("DB_CONN_STR"); connStr != "" {
		return connStr
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("DB_USER", "postgres"), os.Getenv("DB_PASSWORD")),
		Host:   getEnv("DB_HOST", "localhost") + ":" + getEnv("DB_PORT", "5432"),
		Path:   "/" + getEnv("DB_NAME", "heli_tracker"),
	}
	u.RawQuery = "sslmode=" + url.QueryEscape(getEnv("DB_SSLMODE", "disable"))
	return u.String()
}

// NormalizeICAO lowercases an ICAO hex code and checks it is 6 hex digits
func NormalizeICAO(icao string) (string, error) {
	icao = strings.ToLower(strings.TrimSpace(icao))
	if !icaoPattern.MatchString(icao) {
		return "", fmt.Errorf("invalid ICAO hex code %q", icao)
	}
	return icao, nil
}

// ParseAircraftList parses a comma-separated list of ICAO hex codes
func ParseAircraftList(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		icao, err := NormalizeICAO(part)
		if err != nil {
			return nil, err
		}
		if !seen[icao] {
			seen[icao] = true
			out = append(out, icao)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no aircraft given")
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
