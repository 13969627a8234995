package geofenceevents

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/hostelsync/hostelsync-backend/pkg/outbox/payloads"
)

// Row mirrors the geofence_events BigQuery schema.
type Row struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	Identity       string             `bigquery:"identity"`
	IdentityKey    string             `bigquery:"identity_key"`
	Channel        string             `bigquery:"channel"`
	Latitude       float64            `bigquery:"latitude"`
	Longitude      float64            `bigquery:"longitude"`
	DistanceMeters float64            `bigquery:"distance_meters"`
	RadiusMeters   float64            `bigquery:"radius_meters"`
	PreviousState  string             `bigquery:"previous_state"`
	State          string             `bigquery:"state"`
	SampledAt      time.Time          `bigquery:"sampled_at"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}

// Save implements bigquery.ValueSaver so the event id doubles as the insert id.
func (r *Row) Save() (map[string]cbigquery.Value, string, error) {
	values := map[string]cbigquery.Value{
		"event_id":        r.EventID,
		"event_type":      r.EventType,
		"occurred_at":     r.OccurredAt,
		"identity":        r.Identity,
		"identity_key":    r.IdentityKey,
		"channel":         r.Channel,
		"latitude":        r.Latitude,
		"longitude":       r.Longitude,
		"distance_meters": r.DistanceMeters,
		"radius_meters":   r.RadiusMeters,
		"previous_state":  r.PreviousState,
		"state":           r.State,
		"sampled_at":      r.SampledAt,
	}
	if r.Payload.Valid {
		values["payload"] = r.Payload.JSONVal
	}
	return values, r.EventID, nil
}

func rowFromEvent(env Envelope, evt *payloads.GeofenceTransitionEvent) (Row, error) {
	raw, err := encodeJSON(env.Payload)
	if err != nil {
		return Row{}, err
	}
	return Row{
		EventID:        env.EventID,
		EventType:      string(env.EventType),
		OccurredAt:     env.OccurredAt,
		Identity:       evt.Identity,
		IdentityKey:    evt.IdentityKey,
		Channel:        env.Channel,
		Latitude:       evt.Latitude,
		Longitude:      evt.Longitude,
		DistanceMeters: evt.DistanceMeters,
		RadiusMeters:   evt.RadiusMeters,
		PreviousState:  evt.PreviousState.String(),
		State:          evt.State.String(),
		SampledAt:      evt.SampledAt.UTC(),
		Payload:        raw,
	}, nil
}
