package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/heli-tracker/internal/types"
)

const (
	StreamFlights = "FLIGHTS"
	// SubjectFlights matches every flight event subject
	SubjectFlights = "flights.>"
)

// EventSubject returns the subject a flight event is published on
func EventSubject(action types.UpsertAction) string {
	return "flights." + string(action)
}

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("heli-tracker"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamFlights,
		Subjects: []string{SubjectFlights},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishFlightEvent publishes a reconciled flight
func (c *Client) PublishFlightEvent(event *types.FlightEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := c.js.Publish(EventSubject(event.Action), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// SubscribeFlightEvents delivers every flight event to handler. A non-empty
// durable name lets a restarted subscriber resume where it left off.
func (c *Client) SubscribeFlightEvents(durable string, handler func(*types.FlightEvent)) error {
	var opts []nats.SubOpt
	if durable != "" {
		opts = append(opts, nats.Durable(durable))
	}

	_, err := c.js.Subscribe(SubjectFlights, func(msg *nats.Msg) {
		var event types.FlightEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Error unmarshaling flight event: %v", err)
			return
		}
		handler(&event)
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
