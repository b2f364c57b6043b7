package geo

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/supervision-cli/internal/model"
)

func TestValidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		c    *model.Coordinates
		want bool
	}{
		{"nil", nil, false},
		{"zero", &model.Coordinates{}, false},
		{"monterrey", &model.Coordinates{Lat: 25.6866, Lng: -100.3161}, true},
		{"lat out of range", &model.Coordinates{Lat: 95, Lng: -100}, false},
		{"lng out of range", &model.Coordinates{Lat: 25, Lng: -190}, false},
		{"nan", &model.Coordinates{Lat: math.NaN(), Lng: -100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCoordinates(tt.c))
		})
	}
}

func TestNewPoint_AxisOrder(t *testing.T) {
	p := NewPoint(model.Coordinates{Lat: 25.5, Lng: -100.25})
	assert.Equal(t, -100.25, p.X())
	assert.Equal(t, 25.5, p.Y())
	assert.Equal(t, SRID, p.SRID())
}

func TestEncodeEWKB(t *testing.T) {
	data, err := EncodeEWKB(&model.Coordinates{Lat: 25.5, Lng: -100.25})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	pt, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, []float64{-100.25, 25.5}, pt.FlatCoords())
	assert.Equal(t, SRID, pt.SRID())

	data, err = EncodeEWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestMarshalGeoJSON(t *testing.T) {
	score := 85.34
	points := []Point{
		{BranchCode: 6, Name: "García", Lat: 25.81, Lng: -100.59, Supervisions: 2, LatestScore: &score, AverageScore: &score},
		{BranchCode: 52, Name: "Harold R. Pape", Lat: 26.9, Lng: -101.42, Supervisions: 1},
	}

	data, err := MarshalGeoJSON(points)
	require.NoError(t, err)

	var doc struct {
		Type     string    `json:"type"`
		BBox     []float64 `json:"bbox"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "FeatureCollection", doc.Type)
	assert.Equal(t, []float64{-101.42, 25.81, -100.59, 26.9}, doc.BBox)
	require.Len(t, doc.Features, 2)
	assert.Equal(t, "6", doc.Features[0].ID)
	assert.Equal(t, "Point", doc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-100.59, 25.81}, doc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "García", doc.Features[0].Properties["canonical_name"])
	assert.Equal(t, 85.34, doc.Features[0].Properties["latest_score"])
	assert.Nil(t, doc.Features[1].Properties["latest_score"])
	assert.NotContains(t, doc.Features[0].Properties, "lat")
}

func TestMarshalGeoJSON_Empty(t *testing.T) {
	data, err := MarshalGeoJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(data))
}
