// Package geo renders branch supervision results as map geometry.
package geo

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/supervision-cli/internal/model"
)

// SRID is the spatial reference of branch coordinates (WGS84).
const SRID = 4326

// Point is one branch marker for the map view.
type Point struct {
	BranchCode       int                    `json:"branch_code"`
	Name             string                 `json:"canonical_name"`
	OperatingGroup   string                 `json:"operating_group"`
	State            string                 `json:"state"`
	TerritorialClass model.TerritorialClass `json:"territorial_class"`
	Lat              float64                `json:"lat"`
	Lng              float64                `json:"lng"`
	Supervisions     int                    `json:"supervisions"`
	AverageScore     *float64               `json:"average_score"`
	LatestScore      *float64               `json:"latest_score"`
	LatestSource     model.ScoreSource      `json:"latest_score_source"`
	LatestPeriod     string                 `json:"latest_period_name"`
	LatestAt         time.Time              `json:"latest_supervised_at"`
}

// ValidCoordinates reports whether c is a usable WGS84 position. The
// registry stores missing positions as 0,0.
func ValidCoordinates(c *model.Coordinates) bool {
	if c == nil {
		return false
	}
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// NewPoint returns c as an XY point (x=lng, y=lat) tagged with SRID.
func NewPoint(c model.Coordinates) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Lng, c.Lat}).SetSRID(SRID)
}

// EncodeEWKB encodes c as little-endian EWKB for storage next to
// normalized records. Invalid coordinates encode to nil.
func EncodeEWKB(c *model.Coordinates) ([]byte, error) {
	if !ValidCoordinates(c) {
		return nil, nil
	}
	data, err := ewkb.Marshal(NewPoint(*c), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// FeatureCollection converts points to a GeoJSON FeatureCollection with a
// bounding box. Each feature carries the point attributes as properties.
func FeatureCollection(points []Point) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points))}
	if len(points) == 0 {
		return fc, nil
	}

	bounds := geom.NewBounds(geom.XY)
	for _, p := range points {
		pt := NewPoint(model.Coordinates{Lat: p.Lat, Lng: p.Lng})
		bounds.Extend(pt)

		props, err := properties(p)
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(p.BranchCode),
			Geometry:   pt,
			Properties: props,
		})
	}
	fc.BBox = bounds
	return fc, nil
}

// MarshalGeoJSON encodes points as a GeoJSON document.
func MarshalGeoJSON(points []Point) ([]byte, error) {
	fc, err := FeatureCollection(points)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, eris.Wrap(err, "geo: marshal feature collection")
	}
	return data, nil
}

func properties(p Point) (map[string]interface{}, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point properties")
	}
	var props map[string]interface{}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, eris.Wrap(err, "geo: decode point properties")
	}
	delete(props, "lat")
	delete(props, "lng")
	return props, nil
}
