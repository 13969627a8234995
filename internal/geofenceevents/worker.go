// Package geofenceevents consumes geofence transition events from Pub/Sub and
// lands them in BigQuery.
package geofenceevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox/payloads"
)

// ConsumerName scopes idempotency keys for this worker.
const ConsumerName = "geofence-events-bq"

// Envelope is a decoded Pub/Sub message.
type Envelope struct {
	EventID     string
	EventType   enums.OutboxEventType
	AggregateID string
	Version     int
	Channel     string
	OccurredAt  time.Time
	Payload     json.RawMessage
}

type claimer interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

type rowWriter interface {
	Insert(ctx context.Context, row Row) error
}

// ServiceParams wires the worker.
type ServiceParams struct {
	Subscription *gcppubsub.Subscriber
	Claims       claimer
	Decoders     payloadDecoder
	Writer       rowWriter
	Logger       *logger.Logger
}

// Service consumes geofence events while honoring Redis idempotency.
type Service struct {
	subscription *gcppubsub.Subscriber
	claims       claimer
	decoders     payloadDecoder
	writer       rowWriter
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("geofence subscription is required")
	}
	if params.Claims == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if params.Writer == nil {
		return nil, errors.New("writer is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: params.Subscription,
		claims:       params.Claims,
		decoders:     params.Decoders,
		writer:       params.Writer,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack bool
}

// Run receives messages until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process acks malformed messages so they are not redelivered forever and
// nacks anything that may succeed on retry.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}
	logCtx := s.logg.WithFields(ctx, fields)

	env, err := buildEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid geofence envelope")
		return processResult{}
	}
	fields["event_id"] = env.EventID
	fields["event_type"] = env.EventType
	fields["aggregate_id"] = env.AggregateID
	logCtx = s.logg.WithFields(ctx, fields)

	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		return processResult{}
	}

	decoded, err := s.decoders.Decode(env.EventType, env.Version, env.Payload)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "undecodable geofence payload")
		return processResult{}
	}
	evt, ok := decoded.(*payloads.GeofenceTransitionEvent)
	if !ok {
		s.logg.Warn(logCtx, "unexpected geofence payload type")
		return processResult{}
	}
	row, err := rowFromEvent(*env, evt)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "geofence row build failed")
		return processResult{}
	}

	claimed, err := s.claims.Claim(logCtx, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		s.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	if err := s.writer.Insert(logCtx, row); err != nil {
		s.logg.Error(logCtx, "geofence row insert failed", err)
		if relErr := s.claims.Release(logCtx, eventID); relErr != nil {
			s.logg.Error(logCtx, "idempotency release failed", relErr)
		}
		return processResult{nack: true}
	}

	s.logg.Info(logCtx, "geofence event stored")
	return processResult{}
}

func buildEnvelope(msg *gcppubsub.Message) (*Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}

	aggregateID := strings.TrimSpace(msg.Attributes["aggregate_id"])
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	version := stored.Version
	if version == 0 {
		if raw := strings.TrimSpace(msg.Attributes["version"]); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				version = parsed
			}
		}
	}
	if version == 0 {
		version = 1
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := strings.TrimSpace(msg.Attributes["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	channel := ""
	if stored.Source != nil {
		channel = string(stored.Source.Channel)
	}

	return &Envelope{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: aggregateID,
		Version:     version,
		Channel:     channel,
		OccurredAt:  occurredAt.UTC(),
		Payload:     stored.Data,
	}, nil
}
