package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Geocode cache ---

func TestSQLite_GeocodeCache_PutAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	want := CachedGeocode{
		Latitude:       30.274915,
		Longitude:      -97.740379,
		MatchedAddress: "1600 CONGRESS AVE",
		Score:          100,
		Quality:        "rooftop",
		Source:         "locator",
		Matched:        true,
	}
	require.NoError(t, st.PutGeocode(ctx, "hash1", want))

	got, err := st.GetGeocode(ctx, "hash1", 90)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Latitude, got.Latitude)
	assert.Equal(t, want.Longitude, got.Longitude)
	assert.Equal(t, want.MatchedAddress, got.MatchedAddress)
	assert.True(t, got.Matched)
	assert.False(t, got.CachedAt.IsZero())
}

func TestSQLite_GeocodeCache_Miss(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetGeocode(context.Background(), "nope", 90)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_GeocodeCache_NegativeResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGeocode(ctx, "miss-hash", CachedGeocode{Matched: false, Source: "cascade"}))

	got, err := st.GetGeocode(ctx, "miss-hash", 90)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Matched)
}

func TestSQLite_GeocodeCache_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGeocode(ctx, "h", CachedGeocode{Score: 50}))
	require.NoError(t, st.PutGeocode(ctx, "h", CachedGeocode{Score: 90}))

	got, err := st.GetGeocode(ctx, "h", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 90, got.Score)
}

// --- District cache ---

func TestSQLite_DistrictCache_PutAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	want := CachedDistrict{
		District:        "9",
		Status:          "matched",
		Source:          "arcgis",
		GeocodedAddress: "1600 CONGRESS AVE, AUSTIN, TX, 78701",
	}
	require.NoError(t, st.PutDistrict(ctx, "hash1", want))

	got, err := st.GetDistrict(ctx, "hash1", 90)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "9", got.District)
	assert.Equal(t, "matched", got.Status)
	assert.Equal(t, want.GeocodedAddress, got.GeocodedAddress)
}

func TestSQLite_DistrictCache_Miss(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetDistrict(context.Background(), "nope", 90)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Quota ---

func TestSQLite_ReserveQuota_UnderLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := st.ReserveQuota(ctx, "2025-06-01", 3)
		require.NoError(t, err)
		assert.True(t, ok, "reservation %d", i)
	}

	ok, err := st.ReserveQuota(ctx, "2025-06-01", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	used, err := st.QuotaUsed(ctx, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 3, used)
}

func TestSQLite_ReserveQuota_PerDay(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.ReserveQuota(ctx, "2025-06-01", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.ReserveQuota(ctx, "2025-06-01", 1)
	require.NoError(t, err)
	require.False(t, ok)

	// A new day starts fresh.
	ok, err = st.ReserveQuota(ctx, "2025-06-02", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_ReserveQuota_ZeroLimitDeniesFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.ReserveQuota(ctx, "2025-06-01", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	used, err := st.QuotaUsed(ctx, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestSQLite_QuotaUsed_NoRow(t *testing.T) {
	st := newTestSQLiteStore(t)

	used, err := st.QuotaUsed(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

// --- Boundaries ---

func TestSQLite_Boundaries_ReplaceAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceBoundaries(ctx, []Boundary{
		{Name: "2", Geom: []byte{0x02}},
		{Name: "1", Geom: []byte{0x01}},
	}))

	got, err := st.ListBoundaries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Name)
	assert.Equal(t, []byte{0x01}, got[0].Geom)

	// Replace swaps the whole set.
	require.NoError(t, st.ReplaceBoundaries(ctx, []Boundary{{Name: "9", Geom: []byte{0x09}}}))
	got, err = st.ListBoundaries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "9", got[0].Name)
}

// --- Runs ---

func TestSQLite_Runs_StartFinishList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, "members.csv")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	counts := RunCounts{Total: 10, Matched: 7, Unknown: 2, Ambiguous: 0, Skipped: 1}
	require.NoError(t, st.FinishRun(ctx, run.ID, counts))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "members.csv", runs[0].Input)
	assert.Equal(t, counts, runs[0].Counts)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestSQLite_FinishRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.FinishRun(context.Background(), "no-such-run", RunCounts{})
	require.Error(t, err)
}

// --- Maintenance ---

func TestSQLite_CacheStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGeocode(ctx, "g1", CachedGeocode{}))
	require.NoError(t, st.PutDistrict(ctx, "d1", CachedDistrict{Status: "matched"}))
	require.NoError(t, st.ReplaceBoundaries(ctx, []Boundary{{Name: "1", Geom: []byte{0x01}}}))
	_, err := st.ReserveQuota(ctx, "2025-06-01", 10)
	require.NoError(t, err)

	stats, err := st.CacheStats(ctx, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Geocodes)
	assert.Equal(t, 1, stats.Districts)
	assert.Equal(t, 1, stats.Boundaries)
	assert.Equal(t, 1, stats.QuotaToday)
}

func TestSQLite_PruneCaches_KeepsFresh(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGeocode(ctx, "fresh", CachedGeocode{}))
	require.NoError(t, st.PutDistrict(ctx, "fresh", CachedDistrict{Status: "matched"}))

	pruned, err := st.PruneCaches(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)

	got, err := st.GetGeocode(ctx, "fresh", 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
