package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/hostelsync/hostelsync-backend/pkg/enums"
)

// GeofenceTransitionEvent is emitted when a stored position crosses the hostel fence.
type GeofenceTransitionEvent struct {
	PositionID     uuid.UUID           `json:"position_id"`
	Identity       string              `json:"identity"`
	IdentityKey    string              `json:"identity_key"`
	Latitude       float64             `json:"latitude"`
	Longitude      float64             `json:"longitude"`
	DistanceMeters float64             `json:"distance_meters"`
	RadiusMeters   float64             `json:"radius_meters"`
	PreviousState  enums.GeofenceState `json:"previous_state"`
	State          enums.GeofenceState `json:"state"`
	SampledAt      time.Time           `json:"sampled_at"`
}
