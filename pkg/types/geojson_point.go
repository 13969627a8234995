package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hostelsync/hostelsync-backend/pkg/geo"
)

const geoJSONPointType = "Point"

// ErrMalformedPoint marks stored coordinates that cannot be read back as a point.
var ErrMalformedPoint = errors.New("geojson: malformed point")

// GeoJSONPoint is a GeoJSON Point stored in a jsonb column.
// Coordinates are ordered [longitude, latitude].
type GeoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewGeoJSONPoint builds a point from a validated coordinate.
func NewGeoJSONPoint(p geo.Point) GeoJSONPoint {
	return GeoJSONPoint{Type: geoJSONPointType, Coordinates: []float64{p.Lng, p.Lat}}
}

// Point decodes the coordinate pair, rejecting wrong arity and out-of-range values.
func (g GeoJSONPoint) Point() (geo.Point, error) {
	if !strings.EqualFold(g.Type, geoJSONPointType) {
		return geo.Point{}, fmt.Errorf("%w: type %q", ErrMalformedPoint, g.Type)
	}
	if len(g.Coordinates) != 2 {
		return geo.Point{}, fmt.Errorf("%w: %d coordinates", ErrMalformedPoint, len(g.Coordinates))
	}
	p := geo.Point{Lat: g.Coordinates[1], Lng: g.Coordinates[0]}
	if err := p.Validate(); err != nil {
		return geo.Point{}, fmt.Errorf("%w: %v", ErrMalformedPoint, err)
	}
	return p, nil
}

// Value serializes the point as GeoJSON text.
func (g GeoJSONPoint) Value() (driver.Value, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("geojson: encode %w", err)
	}
	return string(b), nil
}

// Scan reads jsonb as text or bytes. Payloads that do not decode scan as an
// empty point so Point() reports them instead of failing the whole query.
func (g *GeoJSONPoint) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*g = GeoJSONPoint{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("geojson: unsupported scan type %T", value)
	}

	var decoded GeoJSONPoint
	if err := json.Unmarshal(raw, &decoded); err != nil {
		*g = GeoJSONPoint{}
		return nil
	}
	*g = decoded
	return nil
}
