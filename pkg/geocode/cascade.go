package geocode

import (
	"context"

	"go.uber.org/zap"

	"github.com/atx-organizing/district-cli/internal/resilience"
	"github.com/atx-organizing/district-cli/internal/store"
)

// Cache is the subset of the store the cascade needs.
type Cache interface {
	GetGeocode(ctx context.Context, key string, ttlDays int) (*store.CachedGeocode, error)
	PutGeocode(ctx context.Context, key string, g store.CachedGeocode) error
}

// Cascade implements Client by trying providers in order, with a persistent
// address cache in front. Non-matches are cached too, so a roster full of
// unmatched PO boxes does not re-hit the endpoints on every run.
type Cascade struct {
	providers []Provider
	cache     Cache
	ttlDays   int
	retry     resilience.RetryConfig
}

// CascadeOption configures the Cascade.
type CascadeOption func(*Cascade)

// WithCache enables the persistent address cache with the given TTL.
func WithCache(cache Cache, ttlDays int) CascadeOption {
	return func(c *Cascade) {
		c.cache = cache
		c.ttlDays = ttlDays
	}
}

// WithRetry sets the per-provider retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) CascadeOption {
	return func(c *Cascade) {
		c.retry = cfg
	}
}

// NewCascade creates a Cascade over the given providers.
func NewCascade(providers []Provider, opts ...CascadeOption) *Cascade {
	c := &Cascade{
		providers: providers,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode implements Client. Provider errors are never returned to the
// caller: a record that cannot be geocoded comes back unmatched, and the
// pipeline marks its district unknown.
func (c *Cascade) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	key := CacheKey(addr)

	if c.cache != nil {
		if cached, err := c.cache.GetGeocode(ctx, key, c.ttlDays); err == nil && cached != nil {
			zap.L().Debug("geocode cache hit", zap.String("key", head(key, 12)), zap.Bool("matched", cached.Matched))
			return &Result{
				Latitude:       cached.Latitude,
				Longitude:      cached.Longitude,
				MatchedAddress: cached.MatchedAddress,
				Score:          cached.Score,
				Quality:        cached.Quality,
				Source:         cached.Source,
				Matched:        cached.Matched,
			}, nil
		}
	}

	for _, p := range c.providers {
		if !p.Available() {
			continue
		}

		cfg := c.retry
		if cfg.OnRetry == nil {
			cfg.OnRetry = resilience.RetryLogger(p.Name(), "geocode")
		}
		result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
			return p.Geocode(ctx, addr)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Debug("geocode: provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			continue
		}
		if result != nil && result.Matched {
			c.storeCache(ctx, key, result)
			return result, nil
		}
	}

	noMatch := &Result{Matched: false, Source: "cascade"}
	c.storeCache(ctx, key, noMatch)
	return noMatch, nil
}

func (c *Cascade) storeCache(ctx context.Context, key string, result *Result) {
	if c.cache == nil {
		return
	}
	err := c.cache.PutGeocode(ctx, key, store.CachedGeocode{
		Latitude:       result.Latitude,
		Longitude:      result.Longitude,
		MatchedAddress: result.MatchedAddress,
		Score:          result.Score,
		Quality:        result.Quality,
		Source:         result.Source,
		Matched:        result.Matched,
	})
	if err != nil {
		zap.L().Warn("geocode: store cache", zap.Error(err))
	}
}
