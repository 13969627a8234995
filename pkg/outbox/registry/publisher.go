package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/db/models"
	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one outbox event type to a topic. Decode returns the
// typed payload and the ordering key that serializes delivery per resident.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	Decode        func(data json.RawMessage) (payload interface{}, orderingKey string, err error)
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor  EventDescriptor
	Envelope    outbox.PayloadEnvelope
	Payload     interface{}
	OrderingKey string
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry routes both geofence transitions to the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.GeofenceTopic == "" {
		return nil, fmt.Errorf("geofence topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, eventType := range []enums.OutboxEventType{enums.EventGeofenceExited, enums.EventGeofenceEntered} {
		reg.entries[eventType] = EventDescriptor{
			EventType:     eventType,
			AggregateType: enums.AggregatePosition,
			Topic:         cfg.GeofenceTopic,
			Decode:        decodeTransition,
		}
	}
	return reg, nil
}

func decodeTransition(data json.RawMessage) (interface{}, string, error) {
	var evt payloads.GeofenceTransitionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, "", err
	}
	if evt.IdentityKey == "" {
		return nil, "", fmt.Errorf("identity_key missing")
	}
	return &evt, evt.IdentityKey, nil
}

// Resolve checks the row against its descriptor and decodes the payload. Every
// failure is non-retryable: the row will not change on its own.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload, key, err := desc.Decode(data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{
		Descriptor:  desc,
		Envelope:    envelope,
		Payload:     payload,
		OrderingKey: key,
	}, nil
}
