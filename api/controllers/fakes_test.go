package controllers

import (
	"context"
	"sync"
	"time"

	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

type fakeLocations struct {
	mu        sync.Mutex
	samples   []locations.Sample
	received  chan locations.Sample
	ingestErr error

	far    []locations.FarUser
	farErr error
	ref    geo.Point
	radius float64

	position    *locations.Position
	positionErr error
	asked       string
}

func newFakeLocations() *fakeLocations {
	return &fakeLocations{received: make(chan locations.Sample, 16)}
}

func (f *fakeLocations) Ingest(_ context.Context, sample locations.Sample) error {
	if _, err := sample.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.samples = append(f.samples, sample)
	f.mu.Unlock()
	f.received <- sample
	return f.ingestErr
}

func (f *fakeLocations) ListUsersBeyondRadius(_ context.Context, ref geo.Point, radius float64) ([]locations.FarUser, error) {
	f.ref = ref
	f.radius = radius
	return f.far, f.farErr
}

func (f *fakeLocations) GetLastKnownPosition(_ context.Context, identity string) (*locations.Position, error) {
	f.asked = identity
	return f.position, f.positionErr
}

func (f *fakeLocations) EnsureIndex(context.Context) error { return nil }

func (f *fakeLocations) ReconcileIndex(context.Context, int) (locations.ReconcileResult, error) {
	return locations.ReconcileResult{}, nil
}

func (f *fakeLocations) PruneSampledBefore(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (f *fakeLocations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}
