package storage

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saviobatista/heli-tracker/internal/types"
)

// Storage appends flight events as JSON lines to one file per UTC day.
// When a day ends its file is gzip-compressed.
type Storage struct {
	outputDir string
	file      *os.File
	day       string
	pending   []string
	now       func() time.Time
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new Storage instance
func New(outputDir string) *Storage {
	return &Storage{
		outputDir: outputDir,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// FileName returns the event log name for a day
func FileName(day time.Time) string {
	return fmt.Sprintf("events_%s.jsonl", day.UTC().Format("2006-01-02"))
}

// Start opens today's file and starts the rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.rotateFile()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	close(s.stopChan)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// WriteEvent appends one event to the current day's file
func (s *Storage) WriteEvent(event *types.FlightEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.WriteLine(data)
}

// WriteLine appends line, adding a trailing newline if missing. A write
// after midnight rotates the file even if the timer has not fired yet.
func (s *Storage) WriteLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.day != s.now().UTC().Format("2006-01-02") {
		if err := s.rotateAndCompress(); err != nil {
			if s.file == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Error during rotation: %v\n", err)
		}
	}

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	_, err := s.file.Write(line)
	return err
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := s.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			s.mu.Lock()
			err := s.rotateAndCompress()
			s.mu.Unlock()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error during rotation: %v\n", err)
			}
		case <-s.stopChan:
			return
		}
	}
}

// rotateAndCompress closes the open file, opens today's file and compresses
// finished days. A day that fails to compress is retried on the next
// rotation. Callers hold s.mu.
func (s *Storage) rotateAndCompress() error {
	previous, previousDay := "", s.day
	if s.file != nil {
		previous = s.file.Name()
		if err := s.file.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing event log: %v\n", err)
		}
		s.file = nil
	}

	if previous != "" && previousDay != s.now().UTC().Format("2006-01-02") {
		s.pending = append(s.pending, previous)
	}

	if err := s.rotateFile(); err != nil {
		return err
	}

	var failed []string
	var errs []error
	for _, path := range s.pending {
		if err := compressFile(path); err != nil {
			failed = append(failed, path)
			errs = append(errs, fmt.Errorf("failed to compress file: %w", err))
		}
	}
	s.pending = failed
	return errors.Join(errs...)
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// rotateFile opens the file for the current day. Callers hold s.mu.
func (s *Storage) rotateFile() error {
	now := s.now().UTC()
	filename := filepath.Join(s.outputDir, FileName(now))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	s.file = file
	s.day = now.Format("2006-01-02")
	return nil
}
