package geocode

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritics so "Cañada" and "Canada" share a cache slot.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeAddress canonicalizes an address for cache keying: folded case,
// collapsed whitespace, diacritics stripped.
func normalizeAddress(addr AddressInput) string {
	fields := []string{addr.Street, addr.City, addr.State, addr.Zip}
	for i, f := range fields {
		f = strings.ToLower(strings.Join(strings.Fields(f), " "))
		if folded, _, err := transform.String(stripMarks, f); err == nil {
			f = folded
		}
		fields[i] = f
	}
	return strings.Join(fields, "|")
}

// CacheKey returns the SHA-256 hex of the normalized address.
func CacheKey(addr AddressInput) string {
	h := sha256.Sum256([]byte(normalizeAddress(addr)))
	return fmt.Sprintf("%x", h)
}
