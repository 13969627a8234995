package locations

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

const positionsGeoSet = "positions"

// Candidate is an index hit. ApproxDistance comes from the index's geohash and
// is only used for ordering; the exact distance is recomputed from the stored record.
type Candidate struct {
	IdentityKey    string
	ApproxDistance float64
}

// Index is the spatial index mirrored from the positions table.
type Index interface {
	Add(ctx context.Context, identityKey string, p geo.Point) error
	Remove(ctx context.Context, identityKeys ...string) error
	Nearest(ctx context.Context, ref geo.Point) ([]Candidate, error)
	Members(ctx context.Context) ([]string, error)
	Exists(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
}

type geoStore interface {
	GeoKey(name string) string
	Exists(ctx context.Context, key string) (bool, error)
	GeoAdd(ctx context.Context, key string, locations ...*goredis.GeoLocation) error
	GeoSearchAll(ctx context.Context, key string, lng, lat float64) ([]goredis.GeoLocation, error)
	GeoRemove(ctx context.Context, key string, members ...string) error
	GeoMembers(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisIndex keeps positions in a Redis GEO set keyed by identity key.
// Redis rejects latitudes beyond ±85.05112878, so polar positions cannot be indexed.
type RedisIndex struct {
	store geoStore
	key   string
}

func NewRedisIndex(store geoStore) (*RedisIndex, error) {
	if store == nil {
		return nil, errors.New("geo store is required")
	}
	return &RedisIndex{store: store, key: store.GeoKey(positionsGeoSet)}, nil
}

func (i *RedisIndex) Add(ctx context.Context, identityKey string, p geo.Point) error {
	return i.store.GeoAdd(ctx, i.key, &goredis.GeoLocation{
		Name:      identityKey,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
}

func (i *RedisIndex) Remove(ctx context.Context, identityKeys ...string) error {
	return i.store.GeoRemove(ctx, i.key, identityKeys...)
}

// Nearest returns every indexed identity ordered by ascending distance from ref.
func (i *RedisIndex) Nearest(ctx context.Context, ref geo.Point) ([]Candidate, error) {
	hits, err := i.store.GeoSearchAll(ctx, i.key, ref.Lng, ref.Lat)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		out = append(out, Candidate{IdentityKey: hit.Name, ApproxDistance: hit.Dist})
	}
	return out, nil
}

func (i *RedisIndex) Members(ctx context.Context) ([]string, error) {
	return i.store.GeoMembers(ctx, i.key)
}

func (i *RedisIndex) Exists(ctx context.Context) (bool, error) {
	return i.store.Exists(ctx, i.key)
}

func (i *RedisIndex) Reset(ctx context.Context) error {
	return i.store.Del(ctx, i.key)
}
