package boundary

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeToMultiPolygon_SinglePart(t *testing.T) {
	t.Parallel()

	p := &shp.Polygon{
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0},
		},
	}

	mp := shapeToMultiPolygon(p)
	require.NotNil(t, mp)
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 4326, mp.SRID())
}

func TestShapeToMultiPolygon_ZAndM(t *testing.T) {
	t.Parallel()

	square := []shp.Point{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0},
	}

	// PolygonZ and PolygonM exports carry their extra ordinates in separate
	// arrays; the XY geometry must come through unchanged.
	pz := &shp.PolygonZ{
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points:    square,
		ZArray:    []float64{150, 150, 150, 150, 150},
	}
	mpz := shapeToMultiPolygon(pz)
	require.NotNil(t, mpz)
	assert.Equal(t, 1, mpz.NumPolygons())

	pm := &shp.PolygonM{
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points:    square,
		MArray:    []float64{0, 1, 2, 3, 4},
	}
	mpm := shapeToMultiPolygon(pm)
	require.NotNil(t, mpm)
	assert.Equal(t, 1, mpm.NumPolygons())

	ix := NewIndex([]District{{Name: "z", Geom: mpz}, {Name: "m", Geom: mpm}})
	assert.Equal(t, []string{"z", "m"}, ix.Locate(5, 5))
}

func TestShapeToMultiPolygon_MultiPart(t *testing.T) {
	t.Parallel()

	// Outer ring plus hole, stored as two parts of one shapefile polygon.
	p := &shp.Polygon{
		NumParts:  2,
		NumPoints: 10,
		Parts:     []int32{0, 5},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0},
			{X: 4, Y: 4}, {X: 4, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 4}, {X: 4, Y: 4},
		},
	}

	mp := shapeToMultiPolygon(p)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())

	// Even-odd counting across the parts keeps the hole open.
	ix := NewIndex([]District{{Name: "donut", Geom: mp}})
	assert.Equal(t, []string{"donut"}, ix.Locate(2, 2))
	assert.Empty(t, ix.Locate(5, 5))
}

func TestShapeToMultiPolygon_Unusable(t *testing.T) {
	t.Parallel()

	assert.Nil(t, shapeToMultiPolygon(nil))
	assert.Nil(t, shapeToMultiPolygon((*shp.Polygon)(nil)))
	assert.Nil(t, shapeToMultiPolygon(&shp.Polygon{}))
	assert.Nil(t, shapeToMultiPolygon(&shp.PolyLine{}))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	want := squareWithHole(t, "9")

	data, err := Encode(want)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := Decode("9", data)
	require.NoError(t, err)
	assert.Equal(t, "9", got.Name)
	assert.Equal(t, want.Geom.NumPolygons(), got.Geom.NumPolygons())
	assert.Equal(t, want.Geom.FlatCoords(), got.Geom.FlatCoords())
}

func TestDecode_Garbage(t *testing.T) {
	t.Parallel()

	_, err := Decode("bad", []byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}
