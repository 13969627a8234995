package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLocationMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLocationMetrics(reg)

	m.IncSample("websocket", ResultStored)
	m.IncSample("websocket", ResultStored)
	m.IncSample("http", ResultRejected)
	m.IncTransition("geofence.exited")
	m.IncIndexFailure("add")
	m.ObserveQuery("nearby_users", 30*time.Millisecond)
	m.SetBeyondRadius(3)
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	samples := family(mfs, "hostelsync_location_samples_total")
	if samples == nil {
		t.Fatal("samples metric missing")
	}
	if got := counterWith(samples, map[string]string{"channel": "websocket", "result": ResultStored}); got != 2 {
		t.Fatalf("expected 2 stored websocket samples, got %f", got)
	}

	if got := counterWith(family(mfs, "hostelsync_geofence_transitions_total"), map[string]string{"event": "geofence.exited"}); got != 1 {
		t.Fatalf("unexpected transitions %f", got)
	}
	if got := counterWith(family(mfs, "hostelsync_geo_index_failures_total"), map[string]string{"op": "add"}); got != 1 {
		t.Fatalf("unexpected index failures %f", got)
	}
	queries := family(mfs, "hostelsync_proximity_query_duration_seconds")
	if queries == nil || queries.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatal("expected a nearby_users query observation")
	}

	if gauge := family(mfs, "hostelsync_users_beyond_radius"); gauge == nil || gauge.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatal("expected users_beyond_radius=3")
	}
	if gauge := family(mfs, "hostelsync_location_streams_open"); gauge == nil || gauge.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatal("expected location_streams_open=1")
	}
}

func TestLocationMetricsNilSafe(t *testing.T) {
	var m *LocationMetrics
	m.IncSample("http", ResultStored)
	m.ObserveQuery("last_location", time.Second)
	m.StreamOpened()

	NewLocationMetrics(nil).SetBeyondRadius(1)
}
