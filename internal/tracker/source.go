package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

// Fix is one position reading from a device source.
type Fix struct {
	Point geo.Point
	// Timestamp is when the reading was taken. Fixes older than the tracker's
	// max age are discarded.
	Timestamp time.Time
}

// Source produces position fixes.
type Source interface {
	Next(ctx context.Context) (Fix, error)
}

// StaticSource always reports the same point, stamped with the current time.
type StaticSource struct {
	Point geo.Point
	Now   func() time.Time
}

func (s StaticSource) Next(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Fix{Point: s.Point, Timestamp: now()}, nil
}

// RouteSource replays a fixed list of points and wraps around at the end.
type RouteSource struct {
	mu     sync.Mutex
	points []geo.Point
	next   int
	now    func() time.Time
}

type routePoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// NewRouteSource validates the points and returns a replaying source.
func NewRouteSource(points []geo.Point) (*RouteSource, error) {
	if len(points) == 0 {
		return nil, errors.New("route must contain at least one point")
	}
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("route point %d: %w", i, err)
		}
	}
	return &RouteSource{points: append([]geo.Point(nil), points...), now: time.Now}, nil
}

// LoadRouteFile reads a JSON array of {latitude, longitude} objects.
func LoadRouteFile(path string) (*RouteSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route file: %w", err)
	}
	var entries []routePoint
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode route file: %w", err)
	}
	points := make([]geo.Point, 0, len(entries))
	for i, e := range entries {
		if e.Latitude == nil || e.Longitude == nil {
			return nil, fmt.Errorf("route point %d: latitude and longitude are required", i)
		}
		points = append(points, geo.Point{Lat: *e.Latitude, Lng: *e.Longitude})
	}
	return NewRouteSource(points)
}

func (s *RouteSource) Next(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.points[s.next]
	s.next = (s.next + 1) % len(s.points)
	return Fix{Point: p, Timestamp: s.now()}, nil
}
