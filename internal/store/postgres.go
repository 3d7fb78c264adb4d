package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool abstracts *pgxpool.Pool so the Postgres store can be unit tested
// against pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool. It exists so several
// organizers can share one lookup cache instead of re-hitting the municipal
// endpoints per laptop.
type PostgresStore struct {
	pool Pool
}

// NewPostgres connects a PostgresStore to the given connection string.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 5
	pgxCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests).
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash    TEXT PRIMARY KEY,
	latitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
	matched_address TEXT NOT NULL DEFAULT '',
	score           INTEGER NOT NULL DEFAULT 0,
	quality         TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	matched         BOOLEAN NOT NULL DEFAULT false,
	cached_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS district_cache (
	address_hash      TEXT PRIMARY KEY,
	district          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	note              TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	geocoded_address  TEXT NOT NULL DEFAULT '',
	cached_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS boundaries (
	name      TEXT PRIMARY KEY,
	geom      BYTEA NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geocode_quota (
	day  TEXT PRIMARY KEY,
	used INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	input       TEXT NOT NULL,
	total       INTEGER NOT NULL DEFAULT 0,
	matched     INTEGER NOT NULL DEFAULT 0,
	unknown     INTEGER NOT NULL DEFAULT 0,
	ambiguous   INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at ON geocode_cache(cached_at);
CREATE INDEX IF NOT EXISTS idx_district_cache_cached_at ON district_cache(cached_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetGeocode(ctx context.Context, key string, ttlDays int) (*CachedGeocode, error) {
	query := `SELECT latitude, longitude, matched_address, score, quality, source, matched, cached_at
		FROM geocode_cache WHERE address_hash = $1`
	if ttlDays > 0 {
		query += fmt.Sprintf(` AND cached_at > now() - interval '%d days'`, ttlDays)
	}

	var g CachedGeocode
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&g.Latitude, &g.Longitude, &g.MatchedAddress, &g.Score, &g.Quality, &g.Source, &g.Matched, &g.CachedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get geocode")
	}
	return &g, nil
}

func (s *PostgresStore) PutGeocode(ctx context.Context, key string, g CachedGeocode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (address_hash, latitude, longitude, matched_address, score, quality, source, matched, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (address_hash) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			matched_address = EXCLUDED.matched_address,
			score = EXCLUDED.score,
			quality = EXCLUDED.quality,
			source = EXCLUDED.source,
			matched = EXCLUDED.matched,
			cached_at = now()`,
		key, g.Latitude, g.Longitude, g.MatchedAddress, g.Score, g.Quality, g.Source, g.Matched,
	)
	return eris.Wrap(err, "postgres: put geocode")
}

func (s *PostgresStore) GetDistrict(ctx context.Context, key string, ttlDays int) (*CachedDistrict, error) {
	query := `SELECT district, status, note, source, geocoded_address, cached_at FROM district_cache WHERE address_hash = $1`
	if ttlDays > 0 {
		query += fmt.Sprintf(` AND cached_at > now() - interval '%d days'`, ttlDays)
	}

	var d CachedDistrict
	err := s.pool.QueryRow(ctx, query, key).Scan(&d.District, &d.Status, &d.Note, &d.Source, &d.GeocodedAddress, &d.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get district")
	}
	return &d, nil
}

func (s *PostgresStore) PutDistrict(ctx context.Context, key string, d CachedDistrict) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO district_cache (address_hash, district, status, note, source, geocoded_address, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (address_hash) DO UPDATE SET
			district = EXCLUDED.district,
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			source = EXCLUDED.source,
			geocoded_address = EXCLUDED.geocoded_address,
			cached_at = now()`,
		key, d.District, d.Status, d.Note, d.Source, d.GeocodedAddress,
	)
	return eris.Wrap(err, "postgres: put district")
}

func (s *PostgresStore) ReserveQuota(ctx context.Context, day string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_quota (day, used) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET used = geocode_quota.used + 1
		WHERE geocode_quota.used < $2`,
		day, limit,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: reserve quota")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) QuotaUsed(ctx context.Context, day string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx, `SELECT used FROM geocode_quota WHERE day = $1`, day).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: quota used")
	}
	return used, nil
}

func (s *PostgresStore) ReplaceBoundaries(ctx context.Context, rows []Boundary) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM boundaries`); err != nil {
		return eris.Wrap(err, "postgres: clear boundaries")
	}
	for _, b := range rows {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO boundaries (name, geom, loaded_at) VALUES ($1, $2, now())`,
			b.Name, b.Geom,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert boundary %s", b.Name)
		}
	}
	return nil
}

func (s *PostgresStore) ListBoundaries(ctx context.Context) ([]Boundary, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, geom FROM boundaries ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list boundaries")
	}
	defer rows.Close()

	var out []Boundary
	for rows.Next() {
		var b Boundary
		if err := rows.Scan(&b.Name, &b.Geom); err != nil {
			return nil, eris.Wrap(err, "postgres: scan boundary")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list boundaries iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, input string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, input, started_at) VALUES ($1, $2, $3)`,
		id, input, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &Run{ID: id, Input: input, StartedAt: now}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, counts RunCounts) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET total = $1, matched = $2, unknown = $3, ambiguous = $4, skipped = $5, finished_at = $6 WHERE id = $7`,
		counts.Total, counts.Matched, counts.Unknown, counts.Ambiguous, counts.Skipped, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, input, total, matched, unknown, ambiguous, skipped, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished *time.Time
		if err := rows.Scan(&r.ID, &r.Input, &r.Counts.Total, &r.Counts.Matched, &r.Counts.Unknown,
			&r.Counts.Ambiguous, &r.Counts.Skipped, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.FinishedAt = finished
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CacheStats(ctx context.Context, day string) (*CacheStats, error) {
	var stats CacheStats
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM geocode_cache`).Scan(&stats.Geocodes); err != nil {
		return nil, eris.Wrap(err, "postgres: count geocode cache")
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM district_cache`).Scan(&stats.Districts); err != nil {
		return nil, eris.Wrap(err, "postgres: count district cache")
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM boundaries`).Scan(&stats.Boundaries); err != nil {
		return nil, eris.Wrap(err, "postgres: count boundaries")
	}
	used, err := s.QuotaUsed(ctx, day)
	if err != nil {
		return nil, err
	}
	stats.QuotaToday = used
	return &stats, nil
}

func (s *PostgresStore) PruneCaches(ctx context.Context, olderThanDays int) (int, error) {
	var pruned int64
	for _, table := range []string{"geocode_cache", "district_cache"} {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE cached_at <= now() - interval '%d days'`, table, olderThanDays,
		))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: prune %s", table)
		}
		pruned += tag.RowsAffected()
	}
	return int(pruned), nil
}
