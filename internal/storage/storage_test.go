package storage

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/heli-tracker/internal/types"
)

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var day = time.Date(2025, 3, 20, 14, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) (*Storage, *clock, string) {
	t.Helper()
	dir := t.TempDir()
	c := &clock{now: day}
	s := New(dir)
	s.now = c.Now
	return s, c, dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestNew(t *testing.T) {
	outputDir := "/test/output"
	storage := New(outputDir)

	if storage == nil {
		t.Fatal("New() returned nil")
	}
	if storage.outputDir != outputDir {
		t.Errorf("Expected outputDir to be %s, got %s", outputDir, storage.outputDir)
	}
	if storage.file != nil {
		t.Error("Expected file to be nil initially")
	}
	if storage.stopChan == nil {
		t.Error("Expected stopChan to be initialized")
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(day); got != "events_2025-03-20.jsonl" {
		t.Errorf("FileName() = %s", got)
	}
	// Dates are taken in UTC
	local := time.Date(2025, 3, 20, 22, 0, 0, 0, time.FixedZone("CDT", -5*3600))
	if got := FileName(local); got != "events_2025-03-21.jsonl" {
		t.Errorf("FileName() = %s, want UTC date", got)
	}
}

func TestStorage_StartAndStop(t *testing.T) {
	storage, _, dir := newTestStorage(t)

	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName(day))); err != nil {
		t.Errorf("Expected today's file to exist: %v", err)
	}
	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestStorage_StartCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "events")
	storage := New(dir)

	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer storage.Stop()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Expected output dir to be created: %v", err)
	}
}

func TestStorage_WriteEvent(t *testing.T) {
	storage, _, dir := newTestStorage(t)
	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer func() {
		if err := storage.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	}()

	event := &types.FlightEvent{
		Action:    types.ActionInserted,
		FlightID:  7,
		ICAO:      "ad389e",
		StartTime: day,
		EndTime:   day.Add(time.Hour),
		RunID:     "run-1",
	}
	if err := storage.WriteEvent(event); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if err := storage.WriteLine([]byte(`{"raw":true}` + "\n")); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, FileName(day)))
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), lines)
	}

	var decoded types.FlightEvent
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("First line is not a JSON event: %v", err)
	}
	if decoded.FlightID != 7 || decoded.Action != types.ActionInserted {
		t.Errorf("Unexpected decoded event: %+v", decoded)
	}
	if lines[1] != `{"raw":true}` {
		t.Errorf("Expected newline not to be doubled, got %q", lines[1])
	}
}

func TestStorage_WriteWithoutStart(t *testing.T) {
	storage, _, dir := newTestStorage(t)

	if err := storage.WriteLine([]byte("first")); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}
	if lines := readLines(t, filepath.Join(dir, FileName(day))); len(lines) != 1 || lines[0] != "first" {
		t.Errorf("Unexpected content: %q", lines)
	}
}

func TestStorage_RotatesOnDayChange(t *testing.T) {
	storage, clk, dir := newTestStorage(t)

	if err := storage.WriteLine([]byte("day one")); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}

	next := day.AddDate(0, 0, 1)
	clk.Set(next)
	if err := storage.WriteLine([]byte("day two")); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, FileName(day))); !os.IsNotExist(err) {
		t.Error("Expected previous day's plain file to be removed")
	}

	file, err := os.Open(filepath.Join(dir, FileName(day)+".gz"))
	if err != nil {
		t.Fatalf("Expected compressed previous day: %v", err)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("Failed to open gzip stream: %v", err)
	}
	content, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to read compressed file: %v", err)
	}
	if string(content) != "day one\n" {
		t.Errorf("Compressed content = %q", content)
	}

	if lines := readLines(t, filepath.Join(dir, FileName(next))); len(lines) != 1 || lines[0] != "day two" {
		t.Errorf("Unexpected new day content: %q", lines)
	}
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Expected compressed file %s: %v", path, err)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("Failed to open gzip stream: %v", err)
	}
	content, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to read compressed file: %v", err)
	}
	return string(content)
}

func TestStorage_CompressFailureIsRetried(t *testing.T) {
	storage, clk, dir := newTestStorage(t)
	if err := storage.WriteLine([]byte("day one")); err != nil {
		t.Fatal(err)
	}

	// A directory in the way of the archive makes compression fail
	blocker := filepath.Join(dir, FileName(day)+".gz")
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatal(err)
	}

	second := day.AddDate(0, 0, 1)
	clk.Set(second)
	if err := storage.WriteLine([]byte("day two")); err != nil {
		t.Fatalf("WriteLine() must keep writing when compression fails: %v", err)
	}
	if lines := readLines(t, filepath.Join(dir, FileName(second))); len(lines) != 1 || lines[0] != "day two" {
		t.Errorf("Unexpected day two content: %q", lines)
	}
	if lines := readLines(t, filepath.Join(dir, FileName(day))); len(lines) != 1 || lines[0] != "day one" {
		t.Errorf("Day one must stay in place until it compresses: %q", lines)
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	third := day.AddDate(0, 0, 2)
	clk.Set(third)
	if err := storage.WriteLine([]byte("day three")); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}

	for d, want := range map[time.Time]string{day: "day one\n", second: "day two\n"} {
		if got := readGzip(t, filepath.Join(dir, FileName(d)+".gz")); got != want {
			t.Errorf("%s content = %q, want %q", FileName(d), got, want)
		}
		if _, err := os.Stat(filepath.Join(dir, FileName(d))); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be removed after compression", FileName(d))
		}
	}
	if len(storage.pending) != 0 {
		t.Errorf("Expected nothing left to compress, got %v", storage.pending)
	}
}

func TestStorage_RotateSameDayKeepsFile(t *testing.T) {
	storage, _, dir := newTestStorage(t)
	if err := storage.WriteLine([]byte("a")); err != nil {
		t.Fatal(err)
	}

	storage.mu.Lock()
	err := storage.rotateAndCompress()
	storage.mu.Unlock()
	if err != nil {
		t.Fatalf("rotateAndCompress() failed: %v", err)
	}
	if err := storage.WriteLine([]byte("b")); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, FileName(day)+".gz")); !os.IsNotExist(err) {
		t.Error("Same-day rotation must not compress the live file")
	}
	if lines := readLines(t, filepath.Join(dir, FileName(day))); len(lines) != 2 {
		t.Errorf("Expected appended lines, got %q", lines)
	}
}

func TestCompressFile_NonExistent(t *testing.T) {
	if err := compressFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestStorage_RotateFileInvalidPath(t *testing.T) {
	storage := New("/nonexistent/directory/that/should/not/exist")
	if err := storage.WriteLine([]byte("x")); err == nil {
		t.Error("Expected error for invalid output directory")
	}
}

func TestStorage_ConcurrentWrites(t *testing.T) {
	storage, _, dir := newTestStorage(t)
	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	const writers, perWriter = 10, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := storage.WriteLine([]byte(fmt.Sprintf("writer %d line %d", id, j))); err != nil {
					t.Errorf("WriteLine() failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, FileName(day)))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if !strings.HasPrefix(scanner.Text(), "writer ") {
			t.Errorf("Interleaved line: %q", scanner.Text())
		}
		count++
	}
	if count != writers*perWriter {
		t.Errorf("Expected %d lines, got %d", writers*perWriter, count)
	}
}

func TestStorage_StopWithoutStart(t *testing.T) {
	storage := New(t.TempDir())
	if err := storage.Stop(); err != nil {
		t.Errorf("Stop() without Start() failed: %v", err)
	}
}
