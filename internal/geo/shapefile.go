package geo

import (
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
)

// DBF field names are capped at 10 characters.
var shapefileFields = []shp.Field{
	shp.NumberField("CODE", 10),
	shp.StringField("NAME", 80),
	shp.StringField("GROUP", 60),
	shp.StringField("STATE", 40),
	shp.StringField("CLASS", 10),
	shp.NumberField("SUPERV", 10),
	shp.FloatField("AVG_SCORE", 8, 2),
	shp.FloatField("LAST_SCORE", 8, 2),
	shp.StringField("LAST_SRC", 15),
	shp.StringField("LAST_PER", 20),
	shp.StringField("LAST_DATE", 10),
}

// WriteShapefile writes points as a POINT shapefile at path (.shp plus the
// .shx and .dbf siblings). Missing scores are written as empty attributes.
func WriteShapefile(path string, points []Point) error {
	if !strings.HasSuffix(strings.ToLower(path), ".shp") {
		return eris.Errorf("geo: shapefile path must end in .shp: %s", path)
	}

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrap(err, "geo: create shapefile")
	}
	defer w.Close()

	if err := w.SetFields(shapefileFields); err != nil {
		return eris.Wrap(err, "geo: set shapefile fields")
	}

	for _, p := range points {
		row := int(w.Write(&shp.Point{X: p.Lng, Y: p.Lat}))

		values := []interface{}{
			p.BranchCode,
			p.Name,
			p.OperatingGroup,
			p.State,
			string(p.TerritorialClass),
			p.Supervisions,
			scoreAttr(p.AverageScore),
			scoreAttr(p.LatestScore),
			string(p.LatestSource),
			p.LatestPeriod,
			dateAttr(p),
		}
		for i, v := range values {
			if str, ok := v.(string); ok {
				v = clip(str, int(shapefileFields[i].Size))
			}
			if err := w.WriteAttribute(row, i, v); err != nil {
				return eris.Wrapf(err, "geo: write attribute %d for branch %d", i, p.BranchCode)
			}
		}
	}
	return nil
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func scoreAttr(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func dateAttr(p Point) string {
	if p.LatestAt.IsZero() {
		return ""
	}
	return p.LatestAt.Format("2006-01-02")
}
