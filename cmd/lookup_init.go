package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atx-organizing/district-cli/internal/boundary"
	"github.com/atx-organizing/district-cli/internal/resilience"
	"github.com/atx-organizing/district-cli/internal/store"
	"github.com/atx-organizing/district-cli/pkg/districts"
	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// lookupEnv holds the initialized store, geocoder and district lookup chain
// shared by the augment/lookup/serve commands.
type lookupEnv struct {
	Store     store.Store
	Lookup    *districts.Chain
	Geocoder  geocode.Client
	Corrector geocode.Client // nil when the corrector is disabled
}

// Close releases resources held by the lookup environment.
func (le *lookupEnv) Close() {
	if le.Store != nil {
		_ = le.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "district.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initLookup sets up the store, the geocoding cascade and the district
// lookup chain. Callers should defer env.Close().
func initLookup(ctx context.Context) (*lookupEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Locator.TimeoutSecs) * time.Second}

	locator := geocode.NewLocator(cfg.Locator.URL,
		geocode.WithLocatorHTTPClient(httpClient),
		geocode.WithLocatorRateLimit(cfg.Locator.RateRPS),
		geocode.WithLocatorWarmup(cfg.Locator.WarmupURL),
	)

	providers := []geocode.Provider{locator}
	if cfg.Census.Enabled {
		providers = append(providers, geocode.NewCensus(
			geocode.WithCensusRateLimit(cfg.Census.RateRPS),
		))
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Districts.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Districts.MaxAttempts
	}

	geocoder := geocode.NewCascade(providers,
		geocode.WithCache(st, cfg.Districts.CacheTTLDays),
		geocode.WithRetry(retry),
	)

	// Locally loaded boundaries answer first; the ArcGIS layer covers the
	// case where no shapefile has been loaded yet.
	services := []districts.Service{
		districts.NewLocal(loadBoundaryIndex(ctx, st), geocoder),
		districts.NewArcGIS(cfg.Districts.QueryURL, cfg.Districts.Field, geocoder,
			districts.WithArcGISHTTPClient(httpClient),
			districts.WithArcGISRateLimit(cfg.Districts.RateRPS),
		),
	}

	chain := districts.NewChain(services,
		districts.WithChainCache(st, cfg.Districts.CacheTTLDays),
		districts.WithChainRetry(retry),
	)

	env := &lookupEnv{
		Store:    st,
		Lookup:   chain,
		Geocoder: geocoder,
	}

	if cfg.Corrector.Enabled {
		env.Corrector = geocode.NewQuotaGate(locator, st, cfg.Corrector.DailyQuota)
		zap.L().Info("address corrector enabled", zap.Int("daily_quota", cfg.Corrector.DailyQuota))
	}

	return env, nil
}

// loadBoundaryIndex builds the point-in-polygon index from stored
// boundaries. An empty store yields an empty index, which the local service
// reports as unavailable.
func loadBoundaryIndex(ctx context.Context, st store.Store) *boundary.Index {
	rows, err := st.ListBoundaries(ctx)
	if err != nil {
		zap.L().Warn("list boundaries, local lookup disabled", zap.Error(err))
		return boundary.NewIndex(nil)
	}

	dists := make([]boundary.District, 0, len(rows))
	for _, row := range rows {
		d, err := boundary.Decode(row.Name, row.Geom)
		if err != nil {
			zap.L().Warn("decode boundary, skipping",
				zap.String("district", row.Name),
				zap.Error(err),
			)
			continue
		}
		dists = append(dists, d)
	}

	if len(dists) > 0 {
		zap.L().Info("boundary index loaded", zap.Int("districts", len(dists)))
	}
	return boundary.NewIndex(dists)
}
