package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash    TEXT PRIMARY KEY,
	latitude        REAL NOT NULL DEFAULT 0,
	longitude       REAL NOT NULL DEFAULT 0,
	matched_address TEXT NOT NULL DEFAULT '',
	score           INTEGER NOT NULL DEFAULT 0,
	quality         TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	matched         INTEGER NOT NULL DEFAULT 0,
	cached_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS district_cache (
	address_hash      TEXT PRIMARY KEY,
	district          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	note              TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	geocoded_address  TEXT NOT NULL DEFAULT '',
	cached_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS boundaries (
	name      TEXT PRIMARY KEY,
	geom      BLOB NOT NULL,
	loaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
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
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at ON geocode_cache(cached_at);
CREATE INDEX IF NOT EXISTS idx_district_cache_cached_at ON district_cache(cached_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetGeocode(ctx context.Context, key string, ttlDays int) (*CachedGeocode, error) {
	query := `SELECT latitude, longitude, matched_address, score, quality, source, matched, cached_at
		FROM geocode_cache WHERE address_hash = ?`
	if ttlDays > 0 {
		query += fmt.Sprintf(` AND cached_at > datetime('now', '-%d days')`, ttlDays)
	}

	var g CachedGeocode
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&g.Latitude, &g.Longitude, &g.MatchedAddress, &g.Score, &g.Quality, &g.Source, &g.Matched, &g.CachedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get geocode")
	}
	return &g, nil
}

func (s *SQLiteStore) PutGeocode(ctx context.Context, key string, g CachedGeocode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address_hash, latitude, longitude, matched_address, score, quality, source, matched, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(address_hash) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			matched_address = excluded.matched_address,
			score = excluded.score,
			quality = excluded.quality,
			source = excluded.source,
			matched = excluded.matched,
			cached_at = excluded.cached_at`,
		key, g.Latitude, g.Longitude, g.MatchedAddress, g.Score, g.Quality, g.Source, g.Matched,
	)
	return eris.Wrap(err, "sqlite: put geocode")
}

func (s *SQLiteStore) GetDistrict(ctx context.Context, key string, ttlDays int) (*CachedDistrict, error) {
	query := `SELECT district, status, note, source, geocoded_address, cached_at FROM district_cache WHERE address_hash = ?`
	if ttlDays > 0 {
		query += fmt.Sprintf(` AND cached_at > datetime('now', '-%d days')`, ttlDays)
	}

	var d CachedDistrict
	err := s.db.QueryRowContext(ctx, query, key).Scan(&d.District, &d.Status, &d.Note, &d.Source, &d.GeocodedAddress, &d.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get district")
	}
	return &d, nil
}

func (s *SQLiteStore) PutDistrict(ctx context.Context, key string, d CachedDistrict) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO district_cache (address_hash, district, status, note, source, geocoded_address, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(address_hash) DO UPDATE SET
			district = excluded.district,
			status = excluded.status,
			note = excluded.note,
			source = excluded.source,
			geocoded_address = excluded.geocoded_address,
			cached_at = excluded.cached_at`,
		key, d.District, d.Status, d.Note, d.Source, d.GeocodedAddress,
	)
	return eris.Wrap(err, "sqlite: put district")
}

func (s *SQLiteStore) ReserveQuota(ctx context.Context, day string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	// The WHERE on the upsert makes the increment a no-op at the limit, so
	// concurrent workers cannot overshoot.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_quota (day, used) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET used = used + 1 WHERE used < ?`,
		day, limit,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: reserve quota")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: reserve quota rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) QuotaUsed(ctx context.Context, day string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx, `SELECT used FROM geocode_quota WHERE day = ?`, day).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: quota used")
	}
	return used, nil
}

func (s *SQLiteStore) ReplaceBoundaries(ctx context.Context, rows []Boundary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin boundaries tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM boundaries`); err != nil {
		return eris.Wrap(err, "sqlite: clear boundaries")
	}
	for _, b := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO boundaries (name, geom, loaded_at) VALUES (?, ?, datetime('now'))`,
			b.Name, b.Geom,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert boundary %s", b.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit boundaries")
}

func (s *SQLiteStore) ListBoundaries(ctx context.Context) ([]Boundary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, geom FROM boundaries ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list boundaries")
	}
	defer rows.Close()

	var out []Boundary
	for rows.Next() {
		var b Boundary
		if err := rows.Scan(&b.Name, &b.Geom); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan boundary")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list boundaries iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, input string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, started_at) VALUES (?, ?, ?)`,
		id, input, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &Run{ID: id, Input: input, StartedAt: now}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, counts RunCounts) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET total = ?, matched = ?, unknown = ?, ambiguous = ?, skipped = ?, finished_at = ? WHERE id = ?`,
		counts.Total, counts.Matched, counts.Unknown, counts.Ambiguous, counts.Skipped, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input, total, matched, unknown, ambiguous, skipped, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Input, &r.Counts.Total, &r.Counts.Matched, &r.Counts.Unknown,
			&r.Counts.Ambiguous, &r.Counts.Skipped, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CacheStats(ctx context.Context, day string) (*CacheStats, error) {
	var stats CacheStats
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM geocode_cache`).Scan(&stats.Geocodes); err != nil {
		return nil, eris.Wrap(err, "sqlite: count geocode cache")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM district_cache`).Scan(&stats.Districts); err != nil {
		return nil, eris.Wrap(err, "sqlite: count district cache")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM boundaries`).Scan(&stats.Boundaries); err != nil {
		return nil, eris.Wrap(err, "sqlite: count boundaries")
	}
	used, err := s.QuotaUsed(ctx, day)
	if err != nil {
		return nil, err
	}
	stats.QuotaToday = used
	return &stats, nil
}

func (s *SQLiteStore) PruneCaches(ctx context.Context, olderThanDays int) (int, error) {
	var pruned int64
	for _, table := range []string{"geocode_cache", "district_cache"} {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE cached_at <= datetime('now', '-%d days')`, table, olderThanDays,
		))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: prune %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: prune rows affected")
		}
		pruned += n
	}
	return int(pruned), nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
