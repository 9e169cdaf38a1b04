package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/bakery-payway/internal/obs"
)

// Event is the envelope handed to publishers.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// DedupKey identifies events that must be delivered at most once per aggregate.
func (e Event) DedupKey() string {
	if dedupTopics[e.Topic] {
		return e.Topic + ":" + e.AggregateID
	}
	return e.ID
}

// Publisher delivers an event to a downstream backend.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// Bus builds event envelopes and fans them out to every configured publisher.
type Bus struct {
	Publishers []Publisher
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Emit builds the envelope and publishes it. Publisher failures are joined.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) error {
	_, err := b.Publish(ctx, topic, aggregateID, payload)
	return err
}

// Publish is Emit that also returns the envelope that was sent.
func (b *Bus) Publish(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Clock != nil {
		now = b.Clock
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  now().UTC(),
	}

	var joined error
	for _, pub := range b.Publishers {
		if pub == nil {
			continue
		}
		if pubErr := pub.Publish(ctx, ev); pubErr != nil {
			obs.IncCounter(obs.EventsPublishedTotal, pub.Name(), topic, "error")
			joined = errors.Join(joined, fmt.Errorf("events: %s: %w", pub.Name(), pubErr))
			continue
		}
		obs.IncCounter(obs.EventsPublishedTotal, pub.Name(), topic, "ok")
	}
	if joined != nil {
		b.Logger.Warn().Err(joined).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("event publish incomplete")
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		data := []byte(v)
		if !json.Valid(data) {
			return nil, errors.New("payload is not valid json")
		}
		return data, nil
	default:
		return json.Marshal(v)
	}
}

// LogPublisher writes events to the structured log. It is the default backend.
type LogPublisher struct {
	Logger zerolog.Logger
}

// Name implements Publisher.
func (LogPublisher) Name() string { return "log" }

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("domain event")
	return nil
}
