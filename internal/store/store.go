// Package store persists lookup caches, district boundaries, geocoder quota
// and run records. Two backends are provided: SQLite for single-user local
// runs and Postgres for a cache shared across a team.
package store

import (
	"context"
	"time"
)

// CachedGeocode is a geocode result keyed by normalized-address hash.
// Non-matches are cached too so repeat runs skip known-bad addresses.
type CachedGeocode struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string
	Score          int
	Quality        string
	Source         string
	Matched        bool
	CachedAt       time.Time
}

// CachedDistrict is a district lookup result keyed by normalized-address hash.
type CachedDistrict struct {
	District        string
	Status          string
	Note            string
	Source          string
	GeocodedAddress string
	CachedAt        time.Time
}

// Boundary is one district polygon, geometry encoded as EWKB.
type Boundary struct {
	Name string
	Geom []byte
}

// Run records one augment invocation.
type Run struct {
	ID         string
	Input      string
	Counts     RunCounts
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunCounts summarizes per-record outcomes of a run.
type RunCounts struct {
	Total     int
	Matched   int
	Unknown   int
	Ambiguous int
	Skipped   int
}

// CacheStats reports row counts for the cache status command.
type CacheStats struct {
	Geocodes   int
	Districts  int
	Boundaries int
	QuotaToday int
}

// Store is the persistence interface shared by both backends.
// Cache getters return (nil, nil) on a miss or an expired entry.
type Store interface {
	// Geocode cache
	GetGeocode(ctx context.Context, key string, ttlDays int) (*CachedGeocode, error)
	PutGeocode(ctx context.Context, key string, g CachedGeocode) error

	// District cache
	GetDistrict(ctx context.Context, key string, ttlDays int) (*CachedDistrict, error)
	PutDistrict(ctx context.Context, key string, d CachedDistrict) error

	// Daily geocoder quota. ReserveQuota atomically consumes one unit for
	// the given day (YYYY-MM-DD) and reports whether the reservation fit
	// under limit. A limit of zero or less denies every reservation.
	ReserveQuota(ctx context.Context, day string, limit int) (bool, error)
	QuotaUsed(ctx context.Context, day string) (int, error)

	// District boundaries loaded from a shapefile.
	ReplaceBoundaries(ctx context.Context, rows []Boundary) error
	ListBoundaries(ctx context.Context) ([]Boundary, error)

	// Run records
	StartRun(ctx context.Context, input string) (*Run, error)
	FinishRun(ctx context.Context, runID string, counts RunCounts) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Maintenance
	CacheStats(ctx context.Context, day string) (*CacheStats, error)
	PruneCaches(ctx context.Context, olderThanDays int) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
