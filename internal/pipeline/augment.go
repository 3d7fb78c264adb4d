package pipeline

import (
	"github.com/atx-organizing/district-cli/internal/model"
	"github.com/atx-organizing/district-cli/pkg/districts"
)

// Merge returns a copy of the member with the lookup result applied: the
// district column carries the identifier or the unknown marker, and the
// geocoded address is recorded alongside. Pure and idempotent; the input
// member is never mutated.
func Merge(m model.Member, res districts.Result) model.Member {
	out := m.Clone()

	if res.Status == districts.StatusMatched {
		out.Fields[model.ColDistrict] = res.District
	} else {
		out.Fields[model.ColDistrict] = model.UnknownDistrict
	}
	out.Fields[model.ColGeocodedAddress] = res.GeocodedAddress

	return out
}
