package enums

import "fmt"

// GeofenceState describes where a position sits relative to the hostel fence.
type GeofenceState string

const (
	GeofenceWithin GeofenceState = "within"
	GeofenceBeyond GeofenceState = "beyond"
)

// String returns the literal string for the state.
func (s GeofenceState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s GeofenceState) IsValid() bool {
	return s == GeofenceWithin || s == GeofenceBeyond
}

// ParseGeofenceState converts raw input into GeofenceState.
func ParseGeofenceState(value string) (GeofenceState, error) {
	state := GeofenceState(value)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid geofence state %q", value)
	}
	return state, nil
}

// TransitionEvent returns the outbox event type for a state change, if any.
func TransitionEvent(prev, next GeofenceState) (OutboxEventType, bool) {
	switch {
	case prev == GeofenceWithin && next == GeofenceBeyond:
		return EventGeofenceExited, true
	case prev == GeofenceBeyond && next == GeofenceWithin:
		return EventGeofenceEntered, true
	default:
		return "", false
	}
}
