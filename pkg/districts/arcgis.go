package districts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/atx-organizing/district-cli/internal/resilience"
	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// ArcGIS looks districts up by geocoding the address and intersecting the
// point with the municipal district polygon layer.
type ArcGIS struct {
	queryURL   string
	field      string
	geocoder   geocode.Client
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ArcGISOption configures the ArcGIS service.
type ArcGISOption func(*ArcGIS)

// WithArcGISHTTPClient sets a custom HTTP client (tests).
func WithArcGISHTTPClient(hc *http.Client) ArcGISOption {
	return func(a *ArcGIS) {
		a.httpClient = hc
	}
}

// WithArcGISRateLimit sets the requests-per-second pace for layer queries.
func WithArcGISRateLimit(rps float64) ArcGISOption {
	return func(a *ArcGIS) {
		a.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewArcGIS creates an ArcGIS district service. queryURL is the MapServer
// layer query endpoint, field the attribute carrying the district identifier.
func NewArcGIS(queryURL, field string, geocoder geocode.Client, opts ...ArcGISOption) *ArcGIS {
	a := &ArcGIS{
		queryURL:   queryURL,
		field:      field,
		geocoder:   geocoder,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Service.
func (a *ArcGIS) Name() string { return "arcgis" }

// Available implements Service.
func (a *ArcGIS) Available() bool { return a.queryURL != "" }

// layerQueryResponse is the MapServer query response.
type layerQueryResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DistrictFor implements Service.
func (a *ArcGIS) DistrictFor(ctx context.Context, addr geocode.AddressInput) (*Result, error) {
	geo, err := a.geocoder.Geocode(ctx, addr)
	if err != nil {
		return nil, eris.Wrap(err, "districts: arcgis geocode")
	}
	if !geo.Matched {
		return &Result{Status: StatusUnknown, Note: "address not geocoded", Source: a.Name()}, nil
	}

	names, err := a.queryPoint(ctx, geo.Longitude, geo.Latitude)
	if err != nil {
		return nil, err
	}

	result := &Result{Source: a.Name(), GeocodedAddress: geo.MatchedAddress}
	switch len(names) {
	case 0:
		result.Status = StatusUnknown
		result.Note = "no district contains this point"
	case 1:
		result.Status = StatusMatched
		result.District = names[0]
	default:
		result.Status = StatusAmbiguous
		result.Note = fmt.Sprintf("point claimed by %d districts", len(names))
	}
	return result, nil
}

// queryPoint intersects a WGS84 point with the district layer and returns
// the district identifiers of every matching feature.
func (a *ArcGIS) queryPoint(ctx context.Context, lon, lat float64) ([]string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "districts: arcgis rate limit")
	}

	params := url.Values{
		"geometry":       {fmt.Sprintf("%f,%f", lon, lat)},
		"geometryType":   {"esriGeometryPoint"},
		"inSR":           {"4326"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outFields":      {a.field},
		"returnGeometry": {"false"},
		"f":              {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.queryURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "districts: arcgis build request")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "districts: arcgis request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("districts: arcgis returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "districts: arcgis read body")
	}

	var layerResp layerQueryResponse
	if err := json.Unmarshal(body, &layerResp); err != nil {
		return nil, eris.Wrap(err, "districts: arcgis parse response")
	}
	// ArcGIS reports errors inside a 200 body.
	if layerResp.Error != nil {
		err := eris.Errorf("districts: arcgis error %d: %s", layerResp.Error.Code, layerResp.Error.Message)
		if resilience.IsTransientHTTPStatus(layerResp.Error.Code) {
			return nil, resilience.NewTransientError(err, layerResp.Error.Code)
		}
		return nil, err
	}

	var names []string
	for _, f := range layerResp.Features {
		if v, ok := f.Attributes[a.field]; ok {
			names = append(names, attrToString(v))
		}
	}
	return names, nil
}

// attrToString renders an ArcGIS attribute value; district numbers arrive as
// JSON floats.
func attrToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
