// Package grid generates the N x N sample grid placed around a business location.
package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
)

const (
	// KMPerDegree is the flat-earth length of one degree of latitude.
	KMPerDegree = 111.32

	// precision is the number of decimal places grid coordinates are rounded to.
	precision = 1e7
)

// Cell is one sample point of the grid.
type Cell struct {
	Row int     `json:"row"`
	Col int     `json:"col"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns the cell as an orb point (lng, lat).
func (c Cell) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// DistanceKM returns the great-circle distance from the cell to the given center.
func (c Cell) DistanceKM(centerLat, centerLng float64) float64 {
	return geo.DistanceHaversine(c.Point(), orb.Point{centerLng, centerLat}) / 1000
}

// Generate builds a size x size grid centered on (lat, lng) spanning radiusKM in
// each direction. Cells are returned in row-major order.
//
// Offsets use integer division for the center index, so even sizes produce a
// grid shifted by half a step from the true center.
func Generate(lat, lng, radiusKM float64, size int) ([]Cell, error) {
	if size < 2 {
		return nil, eris.Errorf("grid: size must be >= 2, got %d", size)
	}
	if radiusKM <= 0 {
		return nil, eris.Errorf("grid: radius must be positive, got %g", radiusKM)
	}

	stepKM := (2 * radiusKM) / float64(size-1)
	latStep := stepKM / KMPerDegree
	lngStep := stepKM / (KMPerDegree * math.Cos(lat*math.Pi/180))

	half := size / 2
	cells := make([]Cell, 0, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			cells = append(cells, Cell{
				Row: row,
				Col: col,
				Lat: round(lat + float64(row-half)*latStep),
				Lng: round(lng + float64(col-half)*lngStep),
			})
		}
	}
	return cells, nil
}

// Bounds returns the bounding box covering all cells.
func Bounds(cells []Cell) orb.Bound {
	mp := make(orb.MultiPoint, len(cells))
	for i, c := range cells {
		mp[i] = c.Point()
	}
	return mp.Bound()
}

func round(v float64) float64 {
	return math.Round(v*precision) / precision
}
