package districts

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/atx-organizing/district-cli/internal/boundary"
	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// Local answers lookups from a boundary index loaded via `districts load`.
// Only the geocode leaves the machine; the point-in-polygon test is local.
type Local struct {
	index    *boundary.Index
	geocoder geocode.Client
}

// NewLocal creates a Local service over the given index. A nil or empty
// index leaves the service unavailable so the chain falls through to the
// remote backend.
func NewLocal(index *boundary.Index, geocoder geocode.Client) *Local {
	return &Local{index: index, geocoder: geocoder}
}

// Name implements Service.
func (l *Local) Name() string { return "local" }

// Available implements Service.
func (l *Local) Available() bool { return l.index != nil && l.index.Len() > 0 }

// DistrictFor implements Service.
func (l *Local) DistrictFor(ctx context.Context, addr geocode.AddressInput) (*Result, error) {
	if !l.Available() {
		return nil, eris.New("districts: no boundaries loaded")
	}

	geo, err := l.geocoder.Geocode(ctx, addr)
	if err != nil {
		return nil, eris.Wrap(err, "districts: local geocode")
	}
	if !geo.Matched {
		return &Result{Status: StatusUnknown, Note: "address not geocoded", Source: l.Name()}, nil
	}

	names := l.index.Locate(geo.Longitude, geo.Latitude)

	result := &Result{Source: l.Name(), GeocodedAddress: geo.MatchedAddress}
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
