// Package districts resolves a member address to a city-council district.
// Lookup backends are swappable: a remote ArcGIS MapServer query or a local
// point-in-polygon index over loaded boundary data. A chain tries them in
// order and caches the outcome.
package districts

import (
	"context"

	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// Status classifies a lookup outcome.
type Status string

const (
	// StatusMatched means exactly one district contains the address.
	StatusMatched Status = "matched"
	// StatusUnknown means the address geocoded nowhere or into no district.
	StatusUnknown Status = "unknown"
	// StatusAmbiguous means more than one district claimed the point.
	StatusAmbiguous Status = "ambiguous"
	// StatusError means every backend failed after retries; Note carries the
	// annotation. Error results are not cached.
	StatusError Status = "error"
)

// Result is the outcome of one district lookup.
//
// A caveat inherited from the data, not fixable here: when the address is
// imprecise the geocoder can still return a confident-looking point, and the
// district for that point may be silently wrong.
type Result struct {
	District        string `json:"district"` // district identifier, empty unless matched
	Status          Status `json:"status"`
	Note            string `json:"note,omitempty"`             // annotation for unknown/ambiguous/error outcomes
	Source          string `json:"source"`                     // backend that produced the result
	GeocodedAddress string `json:"geocoded_address,omitempty"` // address as corrected by the geocoder
}

// Service is a single district lookup backend, keyed by address.
type Service interface {
	Name() string
	DistrictFor(ctx context.Context, addr geocode.AddressInput) (*Result, error)
	Available() bool
}
