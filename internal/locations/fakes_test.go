package locations

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

// fakeIndex orders members by exact haversine distance, standing in for Redis GEO.
type fakeIndex struct {
	mu      sync.Mutex
	points  map[string]geo.Point
	addErr  error
	nearErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: map[string]geo.Point{}}
}

func (f *fakeIndex) Add(_ context.Context, identityKey string, p geo.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.points[identityKey] = p
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, identityKeys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range identityKeys {
		delete(f.points, key)
	}
	return nil
}

func (f *fakeIndex) Nearest(_ context.Context, ref geo.Point) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nearErr != nil {
		return nil, f.nearErr
	}
	out := make([]Candidate, 0, len(f.points))
	for key, p := range f.points {
		out = append(out, Candidate{IdentityKey: key, ApproxDistance: geo.Haversine(ref, p)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApproxDistance < out[j].ApproxDistance })
	return out, nil
}

func (f *fakeIndex) Members(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for key := range f.points {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeIndex) Exists(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points) > 0, nil
}

func (f *fakeIndex) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = map[string]geo.Point{}
	return nil
}

func (f *fakeIndex) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[key]
	return ok
}

var errIndexDown = errors.New("index down")
