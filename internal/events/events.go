package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultChannel is the Redis pub/sub channel coordinator events are published on.
const DefaultChannel = "channel:picross:events"

// Event types
const (
	TypePlayerJoined     = "player_joined"
	TypePlayerLeft       = "player_left"
	TypeConfigurationSet = "configuration_set"
	TypeResultRecorded   = "result_recorded"
)

// Event represents a coordinator occurrence published to observers.
type Event struct {
	Type    string          `json:"event"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// PlayerJoinedPayload is the payload for the "player_joined" event.
type PlayerJoinedPayload struct {
	PlayerID   string `json:"player_id"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// PlayerLeftPayload is the payload for the "player_left" event.
type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

// ConfigurationSetPayload is the payload for the "configuration_set" event.
type ConfigurationSetPayload struct {
	PlayerID      string `json:"player_id,omitempty"`
	Configuration string `json:"configuration"`
}

// ResultRecordedPayload is the payload for the "result_recorded" event.
type ResultRecordedPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Time     string `json:"time"`
	Score    int    `json:"score"`
}

// New builds an event of the given type around a JSON-encodable payload.
func New(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Time: time.Now().UTC(), Payload: raw}, nil
}

// Decode unmarshals the event payload into T.
func Decode[T any](e Event) (T, error) {
	var out T
	if len(e.Payload) == 0 {
		return out, fmt.Errorf("empty payload for event %q", e.Type)
	}
	err := json.Unmarshal(e.Payload, &out)
	return out, err
}

//go:generate mockgen -source=events.go -destination=mock_publisher.go -package=events

// Publisher delivers events to some observer.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MultiPublisher fans an event out to several publishers. Every publisher is
// attempted; the errors are joined.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a MultiPublisher, skipping nil entries.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
