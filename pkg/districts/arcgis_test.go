package districts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atx-organizing/district-cli/internal/resilience"
	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// fakeGeocoder returns a fixed geocode result.
type fakeGeocoder struct {
	result *geocode.Result
	err    error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, addr geocode.AddressInput) (*geocode.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func capitolGeocoder() *fakeGeocoder {
	return &fakeGeocoder{result: &geocode.Result{
		Latitude:       30.274915,
		Longitude:      -97.740379,
		MatchedAddress: "1600 CONGRESS AVE, AUSTIN, TX, 78701",
		Matched:        true,
	}}
}

func TestArcGIS_DistrictFor_Matched(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "esriGeometryPoint", q.Get("geometryType"))
		assert.Equal(t, "esriSpatialRelIntersects", q.Get("spatialRel"))
		assert.Equal(t, "4326", q.Get("inSR"))
		assert.Equal(t, "COUNCIL_DISTRICT", q.Get("outFields"))
		assert.Contains(t, q.Get("geometry"), "-97.740379")

		// District numbers arrive as JSON numbers, not strings.
		w.Write([]byte(`{"features":[{"attributes":{"COUNCIL_DISTRICT":9}}]}`))
	}))
	defer srv.Close()

	a := NewArcGIS(srv.URL, "COUNCIL_DISTRICT", capitolGeocoder(), WithArcGISRateLimit(1000))
	got, err := a.DistrictFor(context.Background(), geocode.AddressInput{Street: "1600 Congress Ave"})

	require.NoError(t, err)
	assert.Equal(t, StatusMatched, got.Status)
	assert.Equal(t, "9", got.District)
	assert.Equal(t, "arcgis", got.Source)
	assert.Equal(t, "1600 CONGRESS AVE, AUSTIN, TX, 78701", got.GeocodedAddress)
}

func TestArcGIS_DistrictFor_NoFeatures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	a := NewArcGIS(srv.URL, "COUNCIL_DISTRICT", capitolGeocoder(), WithArcGISRateLimit(1000))
	got, err := a.DistrictFor(context.Background(), geocode.AddressInput{Street: "100 Outside City Rd"})

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, got.Status)
	assert.Equal(t, "no district contains this point", got.Note)
	assert.Empty(t, got.District)
}

func TestArcGIS_DistrictFor_Ambiguous(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[{"attributes":{"COUNCIL_DISTRICT":3}},{"attributes":{"COUNCIL_DISTRICT":9}}]}`))
	}))
	defer srv.Close()

	a := NewArcGIS(srv.URL, "COUNCIL_DISTRICT", capitolGeocoder(), WithArcGISRateLimit(1000))
	got, err := a.DistrictFor(context.Background(), geocode.AddressInput{Street: "1 Boundary Ln"})

	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, got.Status)
	assert.Contains(t, got.Note, "2 districts")
}

func TestArcGIS_DistrictFor_UngeocodableAddress(t *testing.T) {
	t.Parallel()

	gc := &fakeGeocoder{result: &geocode.Result{Matched: false}}
	a := NewArcGIS("http://unreachable.invalid", "COUNCIL_DISTRICT", gc, WithArcGISRateLimit(1000))

	got, err := a.DistrictFor(context.Background(), geocode.AddressInput{Street: "123 Fake St"})

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, got.Status)
	assert.Equal(t, "address not geocoded", got.Note)
}

func TestArcGIS_DistrictFor_InBodyError(t *testing.T) {
	t.Parallel()

	// ArcGIS reports failures inside a 200 response.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":503,"message":"Service unavailable"}}`))
	}))
	defer srv.Close()

	a := NewArcGIS(srv.URL, "COUNCIL_DISTRICT", capitolGeocoder(), WithArcGISRateLimit(1000))
	_, err := a.DistrictFor(context.Background(), geocode.AddressInput{Street: "1600 Congress Ave"})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestArcGIS_DistrictFor_GeocoderError(t *testing.T) {
	t.Parallel()

	gc := &fakeGeocoder{err: eris.New("geocoder down")}
	a := NewArcGIS("http://unreachable.invalid", "COUNCIL_DISTRICT", gc)

	_, err := a.DistrictFor(context.Background(), geocode.AddressInput{Street: "100 Main St"})
	require.Error(t, err)
}

func TestAttrToString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "9", attrToString(float64(9)))
	assert.Equal(t, "D5", attrToString("D5"))
	assert.Equal(t, "", attrToString(nil))
}
