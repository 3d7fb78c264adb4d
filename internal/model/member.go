// Package model defines the roster domain types shared across the pipeline.
package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Column names recognized in roster exports. Action Network membership
// exports use these headers.
const (
	ColStreet  = "address1"
	ColStreet2 = "address2"
	ColCity    = "city"
	ColState   = "state"
	ColZip     = "zip"
	ColCountry = "country"

	ColFirstName = "first_name"
	ColLastName  = "last_name"

	// Columns written by the augmenter.
	ColDistrict        = "city_council_district"
	ColGeocodedAddress = "geocoded_address"
)

// UnknownDistrict is the district value written when no district could be
// determined for a member's address.
const UnknownDistrict = "unknown"

// ErrAddressIncomplete indicates a roster row that cannot be geocoded because
// its address fields are missing or empty.
var ErrAddressIncomplete = eris.New("member: address fields incomplete")

// Member is one roster row. Fields maps header name to cell value.
type Member struct {
	// Row is the 1-based data row number in the source file, header excluded.
	Row    int
	Fields map[string]string
}

// Get returns the value of the named column, trimmed of surrounding space.
func (m Member) Get(col string) string {
	return strings.TrimSpace(m.Fields[col])
}

// Clone returns a deep copy of the member.
func (m Member) Clone() Member {
	fields := make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	return Member{Row: m.Row, Fields: fields}
}

// HasDistrict reports whether the row already carries a non-empty district
// column. Such rows are passed through without a lookup.
func (m Member) HasDistrict() bool {
	_, present := m.Fields[ColDistrict]
	return present && m.Get(ColDistrict) != ""
}

// DisplayName returns "first last" for logging, falling back to the row number.
func (m Member) DisplayName() string {
	name := strings.TrimSpace(m.Get(ColFirstName) + " " + m.Get(ColLastName))
	if name != "" {
		return name
	}
	return "row " + strconv.Itoa(m.Row)
}

// Address assembles the member's address from the roster columns.
func (m Member) Address() Address {
	return Address{
		Street:  m.Get(ColStreet),
		Street2: m.Get(ColStreet2),
		City:    m.Get(ColCity),
		State:   m.Get(ColState),
		Zip:     m.Get(ColZip),
		Country: m.Get(ColCountry),
	}
}

// Address is a postal address assembled from roster columns.
type Address struct {
	Street  string
	Street2 string
	City    string
	State   string
	Zip     string
	Country string
}

// Validate reports whether the address carries enough detail to attempt a
// district lookup: a street line plus at least one of city or zip.
func (a Address) Validate() error {
	if a.Street == "" {
		return eris.Wrap(ErrAddressIncomplete, "no street line")
	}
	if a.City == "" && a.Zip == "" {
		return eris.Wrap(ErrAddressIncomplete, "no city or zip")
	}
	return nil
}

// OneLine formats the address as a single comma-separated line.
func (a Address) OneLine() string {
	street := a.Street
	if a.Street2 != "" {
		street = street + " " + a.Street2
	}
	parts := []string{street, a.City, a.State, a.Zip}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
