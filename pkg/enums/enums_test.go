package enums

import "testing"

func TestTransitionEvent(t *testing.T) {
	cases := []struct {
		prev, next GeofenceState
		want       OutboxEventType
		ok         bool
	}{
		{GeofenceWithin, GeofenceBeyond, EventGeofenceExited, true},
		{GeofenceBeyond, GeofenceWithin, EventGeofenceEntered, true},
		{GeofenceWithin, GeofenceWithin, "", false},
		{GeofenceBeyond, GeofenceBeyond, "", false},
	}
	for _, tc := range cases {
		got, ok := TransitionEvent(tc.prev, tc.next)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("TransitionEvent(%s, %s) = %q, %v; want %q, %v", tc.prev, tc.next, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseOutboxValues(t *testing.T) {
	if _, err := ParseOutboxEventType("geofence.exited"); err != nil {
		t.Fatalf("expected geofence.exited to parse: %v", err)
	}
	if _, err := ParseOutboxEventType("order.created"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
	if _, err := ParseOutboxAggregateType("position"); err != nil {
		t.Fatalf("expected position aggregate to parse: %v", err)
	}
	if _, err := ParseGeofenceState("outside"); err == nil {
		t.Fatal("expected unknown state to fail")
	}
}
