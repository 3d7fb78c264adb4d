package boundary

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Index answers point-in-district queries over a loaded district set.
type Index struct {
	districts []District
	bounds    []*geom.Bounds
}

// NewIndex builds an index over the given districts.
func NewIndex(districts []District) *Index {
	bounds := make([]*geom.Bounds, len(districts))
	for i, d := range districts {
		bounds[i] = d.Geom.Bounds()
	}
	return &Index{districts: districts, bounds: bounds}
}

// Len returns the number of indexed districts.
func (ix *Index) Len() int { return len(ix.districts) }

// Names returns the indexed district names in load order.
func (ix *Index) Names() []string {
	names := make([]string, len(ix.districts))
	for i, d := range ix.districts {
		names[i] = d.Name
	}
	return names
}

// Locate returns the names of all districts containing the point. One name
// is the normal case; none means outside every boundary; more than one means
// the boundary data overlaps and the caller should treat the point as
// ambiguous.
func (ix *Index) Locate(lon, lat float64) []string {
	p := geom.Coord{lon, lat}

	var hits []string
	for i, d := range ix.districts {
		if !ix.bounds[i].OverlapsPoint(geom.XY, p) {
			continue
		}
		if containsEvenOdd(d.Geom, p) {
			hits = append(hits, d.Name)
		}
	}
	return hits
}

// containsEvenOdd applies the even-odd rule across every ring of the
// multipolygon: a point inside an odd number of rings is inside the shape,
// which makes holes work without tracking ring orientation.
func containsEvenOdd(mp *geom.MultiPolygon, p geom.Coord) bool {
	crossings := 0
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			if xy.IsPointInRing(geom.XY, p, poly.LinearRing(j).FlatCoords()) {
				crossings++
			}
		}
	}
	return crossings%2 == 1
}
