package geofence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

var hostel = geo.Point{Lat: 17.53883, Lng: 78.39342}

func TestFenceClassifyBoundaryIsWithin(t *testing.T) {
	target := geo.Destination(hostel, 90, 500)
	exact := geo.Haversine(hostel, target)

	fence := Fence{Center: hostel, RadiusMeters: exact}
	d, state := fence.Classify(target)
	assert.Equal(t, exact, d)
	assert.Equal(t, enums.GeofenceWithin, state)

	_, state = Fence{Center: hostel, RadiusMeters: 500}.Classify(geo.Destination(hostel, 0, 501))
	assert.Equal(t, enums.GeofenceBeyond, state)
}

func TestWatcherAlertsOnlyOnOutwardEdge(t *testing.T) {
	w, err := NewWatcher(hostel, 500, 10)
	require.NoError(t, err)
	require.Equal(t, 510.0, w.Threshold())

	steps := []struct {
		meters  float64
		state   enums.GeofenceState
		alert   bool
		changed bool
	}{
		{0, enums.GeofenceWithin, false, false},
		{505, enums.GeofenceWithin, false, false},
		{520, enums.GeofenceBeyond, true, true},
		{900, enums.GeofenceBeyond, false, false},
		{400, enums.GeofenceWithin, false, true},
		{600, enums.GeofenceBeyond, true, true},
	}
	for i, step := range steps {
		obs := w.Observe(geo.Destination(hostel, 0, step.meters))
		assert.Equal(t, step.state, obs.State, "step %d", i)
		assert.Equal(t, step.alert, obs.Alert, "step %d", i)
		assert.Equal(t, step.changed, obs.Changed, "step %d", i)
		assert.InDelta(t, step.meters, obs.Distance, 1, "step %d", i)
	}
}

func TestWatcherResetRearms(t *testing.T) {
	w, err := NewWatcher(hostel, 500, 0)
	require.NoError(t, err)

	require.True(t, w.Observe(geo.Destination(hostel, 180, 800)).Alert)
	w.Reset()
	assert.Equal(t, enums.GeofenceWithin, w.State())
	assert.True(t, w.Observe(geo.Destination(hostel, 180, 800)).Alert)
}

func TestWatcherConcurrentObserveRaisesSingleAlert(t *testing.T) {
	w, err := NewWatcher(hostel, 500, 10)
	require.NoError(t, err)

	far := geo.Destination(hostel, 45, 2000)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		alerts int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Observe(far).Alert {
				mu.Lock()
				alerts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, alerts)
}

func TestNewWatcherValidates(t *testing.T) {
	_, err := NewWatcher(hostel, 0, 10)
	assert.EqualError(t, err, "fence radius must be positive")
	_, err = NewWatcher(hostel, -20, 30)
	assert.EqualError(t, err, "fence radius must be positive")
	_, err = NewWatcher(hostel, 500, -1)
	assert.Error(t, err)
	_, err = NewWatcher(geo.Point{Lat: 95, Lng: 0}, 500, 0)
	assert.Error(t, err)
}
