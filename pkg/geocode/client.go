// Package geocode turns postal addresses into WGS84 coordinates via the
// municipal ArcGIS locator (primary) and the Census Geocoder (fallback).
package geocode

import (
	"context"
	"strings"
)

// Client geocodes a single address.
type Client interface {
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	Street string
	City   string
	State  string
	Zip    string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string // as corrected by the geocoding service
	Score          int    // locator candidate score, 0-100 (0 when unscored)
	Quality        string // "rooftop", "range", "approximate"
	Source         string // "locator", "census", "cascade"
	Matched        bool
}

// Provider is a single geocoding backend tried by the cascade.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
	Available() bool
}

// formatOneLine formats an address as a single comma-separated line.
func formatOneLine(addr AddressInput) string {
	parts := []string{addr.Street, addr.City, addr.State, addr.Zip}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// scoreToQuality maps a locator candidate score to the quality taxonomy.
func scoreToQuality(score int) string {
	switch {
	case score >= 90:
		return "rooftop"
	case score >= 70:
		return "range"
	default:
		return "approximate"
	}
}
