package export

import (
	"encoding/json"
	"io"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rankgrid/internal/grid"
	"github.com/sells-group/rankgrid/internal/model"
)

// GeoJSON builds a point feature collection of the results, one feature per
// sample, bounded by the sample extent. Rank and score are null when absent.
func GeoJSON(report *model.Report, results []model.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(results) == 0 {
		return fc
	}

	cells := make([]grid.Cell, 0, len(results))
	for _, r := range results {
		cell := grid.Cell{Row: r.Row, Col: r.Col, Lat: r.Lat, Lng: r.Lng}
		f := geojson.NewFeature(cell.Point())
		f.Properties = geojson.Properties{
			"keyword":        r.Keyword,
			"row":            r.Row,
			"col":            r.Col,
			"rank":           r.Rank,
			"score":          r.Score,
			"total_results":  r.TotalResults,
			"top_competitor": r.TopCompetitor,
			"distance_km":    cell.DistanceKM(report.CenterLat, report.CenterLng),
		}
		if r.Error != "" {
			f.Properties["error"] = r.Error
		}
		fc.Append(f)
		cells = append(cells, cell)
	}
	fc.BBox = geojson.NewBBox(grid.Bounds(cells))
	return fc
}

// WriteGeoJSON encodes GeoJSON(report, results) to w.
func WriteGeoJSON(w io.Writer, report *model.Report, results []model.Result) error {
	if err := json.NewEncoder(w).Encode(GeoJSON(report, results)); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}
