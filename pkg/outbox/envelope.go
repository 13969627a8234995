package outbox

import (
	"encoding/json"
	"time"

	"github.com/hostelsync/hostelsync-backend/pkg/enums"
)

// SourceRef identifies where the triggering sample came from.
type SourceRef struct {
	Identity string              `json:"identity"`
	Channel  enums.IngestChannel `json:"channel,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *SourceRef      `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}
