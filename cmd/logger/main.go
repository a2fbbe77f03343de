package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/saviobatista/heli-tracker/internal/nats"
	"github.com/saviobatista/heli-tracker/internal/storage"
	"github.com/saviobatista/heli-tracker/internal/types"
)

// durableName lets a restarted logger pick up events published while it was down
const durableName = "heli-event-logger"

func main() {
	if err := runLogger(); err != nil {
		log.Printf("Logger failed: %v", err)
		os.Exit(1)
	}
}

// EventWriter persists flight events
type EventWriter interface {
	WriteEvent(event *types.FlightEvent) error
}

// runLogger contains the main application logic and can be tested
func runLogger() error {
	outputDir, natsURL := parseEnvironment()

	store := storage.New(outputDir)
	if err := store.Start(); err != nil {
		return fmt.Errorf("failed to start event storage: %w", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing event storage: %v\n", err)
		}
	}()

	client, err := nats.New(natsURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer client.Close()

	if err := client.SubscribeFlightEvents(durableName, eventHandler(store)); err != nil {
		return fmt.Errorf("failed to subscribe to flight events: %w", err)
	}
	log.Printf("Logging flight events to %s", outputDir)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	return nil
}

// eventHandler writes each received event, logging failures
func eventHandler(w EventWriter) func(*types.FlightEvent) {
	return func(event *types.FlightEvent) {
		if err := w.WriteEvent(event); err != nil {
			log.Printf("Failed to write event for flight %d: %v", event.FlightID, err)
		}
	}
}

// parseEnvironment extracts environment variables with defaults
func parseEnvironment() (string, string) {
	outputDir := os.Getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "./logs" // Default output directory
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://nats:4222" // Default to Docker service name
	}

	return outputDir, natsURL
}
