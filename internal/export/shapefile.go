package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rankgrid/internal/grid"
	"github.com/sells-group/rankgrid/internal/model"
)

// wgs84PRJ is the projection written next to every shapefile.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// Attribute columns. dBASE limits names to 10 characters.
var shapeFields = []shp.Field{
	shp.StringField("KEYWORD", 100),
	shp.NumberField("ROW", 4),
	shp.NumberField("COL", 4),
	shp.NumberField("RANK", 4),
	shp.NumberField("SCORE", 4),
	shp.NumberField("TOTAL", 4),
	shp.StringField("TOP_COMP", 100),
	shp.FloatField("DIST_KM", 10, 3),
	shp.StringField("ERROR", 120),
}

const (
	fieldKeyword = iota
	fieldRow
	fieldCol
	fieldRank
	fieldScore
	fieldTotal
	fieldTopComp
	fieldDistKM
	fieldError
)

// WriteShapefile writes results as a WGS84 point shapefile at base (.shp,
// .shx, .dbf and .prj). Unranked or failed samples leave RANK and SCORE
// blank. DIST_KM is the sample's distance from the report center.
func WriteShapefile(base string, report *model.Report, results []model.Result) error {
	base = strings.TrimSuffix(base, filepath.Ext(base))

	w, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", base)
	}
	defer w.Close()

	if err := w.SetFields(shapeFields); err != nil {
		return eris.Wrap(err, "export: set shapefile fields")
	}

	for _, r := range results {
		n := int(w.Write(&shp.Point{X: r.Lng, Y: r.Lat}))
		cell := grid.Cell{Row: r.Row, Col: r.Col, Lat: r.Lat, Lng: r.Lng}

		attrs := map[int]any{
			fieldKeyword: truncate(r.Keyword, 100),
			fieldRow:     r.Row,
			fieldCol:     r.Col,
			fieldTotal:   r.TotalResults,
			fieldTopComp: truncate(r.TopCompetitor, 100),
			fieldDistKM:  cell.DistanceKM(report.CenterLat, report.CenterLng),
			fieldError:   truncate(r.Error, 120),
		}
		if r.Rank != nil {
			attrs[fieldRank] = *r.Rank
		}
		if r.Score != nil {
			attrs[fieldScore] = *r.Score
		}
		for field, v := range attrs {
			if err := w.WriteAttribute(n, field, v); err != nil {
				return eris.Wrapf(err, "export: write attribute %d of record %d", field, n)
			}
		}
	}

	if err := os.WriteFile(base+".prj", []byte(wgs84PRJ), 0o644); err != nil {
		return eris.Wrap(err, "export: write projection")
	}
	return nil
}
