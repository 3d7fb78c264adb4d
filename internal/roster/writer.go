package roster

import (
	"encoding/csv"
	"os"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/atx-organizing/district-cli/internal/model"
)

// OutputHeader returns the header for the augmented file: the input columns
// plus the augmenter's columns, appended only when not already present.
func OutputHeader(header []string) []string {
	out := slices.Clone(header)
	for _, col := range []string{model.ColGeocodedAddress, model.ColDistrict} {
		if !slices.Contains(out, col) {
			out = append(out, col)
		}
	}
	return out
}

// Write emits members as CSV with the given header. Fields absent from a
// member are written empty, so ragged input rows round-trip cleanly.
func Write(path string, header []string, members []model.Member) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "roster: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "roster: write header")
	}

	row := make([]string, len(header))
	for _, m := range members {
		for i, col := range header {
			row[i] = m.Fields[col]
		}
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "roster: write row %d", m.Row)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "roster: flush")
	}
	return eris.Wrapf(f.Sync(), "roster: sync %s", path)
}
