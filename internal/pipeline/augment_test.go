package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atx-organizing/district-cli/internal/model"
	"github.com/atx-organizing/district-cli/pkg/districts"
)

func TestMerge_Matched(t *testing.T) {
	t.Parallel()

	m := model.Member{Row: 1, Fields: map[string]string{"first_name": "Ada"}}
	got := Merge(m, districts.Result{
		Status:          districts.StatusMatched,
		District:        "9",
		GeocodedAddress: "1600 CONGRESS AVE",
	})

	assert.Equal(t, "9", got.Fields[model.ColDistrict])
	assert.Equal(t, "1600 CONGRESS AVE", got.Fields[model.ColGeocodedAddress])
	assert.Equal(t, "Ada", got.Fields["first_name"])
}

func TestMerge_UnknownMarker(t *testing.T) {
	t.Parallel()

	for _, status := range []districts.Status{districts.StatusUnknown, districts.StatusAmbiguous, districts.StatusError} {
		got := Merge(model.Member{Fields: map[string]string{}}, districts.Result{Status: status})
		assert.Equal(t, model.UnknownDistrict, got.Fields[model.ColDistrict], "status %s", status)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	m := model.Member{Row: 1, Fields: map[string]string{"first_name": "Ada"}}
	_ = Merge(m, districts.Result{Status: districts.StatusMatched, District: "9"})

	_, present := m.Fields[model.ColDistrict]
	assert.False(t, present)
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	res := districts.Result{Status: districts.StatusMatched, District: "9", GeocodedAddress: "X"}
	once := Merge(model.Member{Fields: map[string]string{}}, res)
	twice := Merge(once, res)

	assert.Equal(t, once.Fields, twice.Fields)
}
