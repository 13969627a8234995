// Package geofence classifies positions against the hostel fence and tracks
// the device-side alert state.
package geofence

import (
	"errors"
	"sync"

	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

// Fence is a circle around a reference point.
type Fence struct {
	Center       geo.Point
	RadiusMeters float64
}

func (f Fence) Validate() error {
	if err := f.Center.Validate(); err != nil {
		return err
	}
	if !(f.RadiusMeters > 0) {
		return errors.New("fence radius must be positive")
	}
	return nil
}

// Classify places p relative to the fence. A point exactly on the boundary is within.
func (f Fence) Classify(p geo.Point) (float64, enums.GeofenceState) {
	d, beyond := geo.Beyond(f.Center, p, f.RadiusMeters)
	if beyond {
		return d, enums.GeofenceBeyond
	}
	return d, enums.GeofenceWithin
}

// Observation is the outcome of feeding one fix to a Watcher.
type Observation struct {
	Point    geo.Point
	Distance float64
	State    enums.GeofenceState
	Changed  bool
	// Alert is set only on the within to beyond edge.
	Alert bool
}

// Watcher is the two-state alert machine. It starts within, raises an alert the
// first time a fix crosses the threshold and re-arms once a fix returns inside.
type Watcher struct {
	fence Fence

	mu    sync.Mutex
	state enums.GeofenceState
}

// NewWatcher builds a watcher whose threshold is radius plus buffer.
func NewWatcher(center geo.Point, radiusMeters, bufferMeters float64) (*Watcher, error) {
	if !(radiusMeters > 0) {
		return nil, errors.New("fence radius must be positive")
	}
	if bufferMeters < 0 {
		return nil, errors.New("buffer must not be negative")
	}
	fence := Fence{Center: center, RadiusMeters: radiusMeters + bufferMeters}
	if err := fence.Validate(); err != nil {
		return nil, err
	}
	return &Watcher{fence: fence, state: enums.GeofenceWithin}, nil
}

func (w *Watcher) Observe(p geo.Point) Observation {
	distance, next := w.fence.Classify(p)

	w.mu.Lock()
	prev := w.state
	w.state = next
	w.mu.Unlock()

	return Observation{
		Point:    p,
		Distance: distance,
		State:    next,
		Changed:  prev != next,
		Alert:    prev == enums.GeofenceWithin && next == enums.GeofenceBeyond,
	}
}

func (w *Watcher) State() enums.GeofenceState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Threshold is the distance beyond which the watcher considers a fix outside.
func (w *Watcher) Threshold() float64 {
	return w.fence.RadiusMeters
}

// Reset returns the watcher to within without raising anything.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.state = enums.GeofenceWithin
	w.mu.Unlock()
}
