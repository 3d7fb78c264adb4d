// Package boundary loads district polygons from a shapefile and answers
// point-in-district queries without touching the network.
package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// District is one named boundary polygon in WGS84.
type District struct {
	Name string
	Geom *geom.MultiPolygon
}

// LoadShapefile reads districts from a shapefile. nameField is the attribute
// carrying the district identifier (matched case-insensitively). Records with
// an empty name or unusable geometry are skipped with a log line.
func LoadShapefile(path, nameField string) ([]District, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, nameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("boundary: field %q not found in shapefile", nameField)
	}

	var districts []District
	var skipped int

	for reader.Next() {
		n, shape := reader.Shape()

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			skipped++
			continue
		}

		mp := shapeToMultiPolygon(shape)
		if mp == nil {
			zap.L().Debug("boundary: unusable geometry", zap.Int("record", n), zap.String("name", name))
			skipped++
			continue
		}

		districts = append(districts, District{Name: name, Geom: mp})
	}

	if skipped > 0 {
		zap.L().Warn("boundary: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(districts) == 0 {
		return nil, eris.Errorf("boundary: no usable districts in %s", path)
	}

	return districts, nil
}

// shapeToMultiPolygon converts the polygon shape variants to a
// geom.MultiPolygon. Municipal GIS exports often ship PolygonZ or PolygonM;
// the extra ordinates are dropped since containment is planar.
func shapeToMultiPolygon(s shp.Shape) *geom.MultiPolygon {
	switch p := s.(type) {
	case *shp.Polygon:
		if p == nil {
			return nil
		}
		return partsToMultiPolygon(p.Parts, p.Points)
	case *shp.PolygonZ:
		if p == nil {
			return nil
		}
		return partsToMultiPolygon(p.Parts, p.Points)
	case *shp.PolygonM:
		if p == nil {
			return nil
		}
		return partsToMultiPolygon(p.Parts, p.Points)
	default:
		return nil
	}
}

// partsToMultiPolygon builds a MultiPolygon from shapefile part offsets.
// Every part becomes its own single-ring polygon; hole semantics are handled
// at query time by even-odd counting.
func partsToMultiPolygon(parts []int32, points []shp.Point) *geom.MultiPolygon {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := 0; i < len(parts); i++ {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, points[j].X, points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("boundary: skipping malformed part", zap.Int("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// Encode serializes a district geometry as EWKB for persistence.
func Encode(d District) ([]byte, error) {
	data, err := ewkb.Marshal(d.Geom, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: encode %s", d.Name)
	}
	return data, nil
}

// Decode reconstructs a district from its persisted EWKB geometry.
func Decode(name string, data []byte) (District, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return District{}, eris.Wrapf(err, "boundary: decode %s", name)
	}
	mp, ok := g.(*geom.MultiPolygon)
	if !ok {
		return District{}, eris.Errorf("boundary: %s is %T, want MultiPolygon", name, g)
	}
	return District{Name: name, Geom: mp}, nil
}
