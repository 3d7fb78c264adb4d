package districts

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atx-organizing/district-cli/internal/resilience"
	"github.com/atx-organizing/district-cli/internal/store"
	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// Cache is the subset of the store the chain needs.
type Cache interface {
	GetDistrict(ctx context.Context, key string, ttlDays int) (*store.CachedDistrict, error)
	PutDistrict(ctx context.Context, key string, d store.CachedDistrict) error
}

// Chain tries lookup services in order until one produces a result, with a
// persistent cache in front. The chain itself never fails a record: when
// every backend is down the result carries StatusError so the caller can
// still emit a row.
type Chain struct {
	services []Service
	cache    Cache
	ttlDays  int
	retry    resilience.RetryConfig
}

// ChainOption configures the Chain.
type ChainOption func(*Chain)

// WithChainCache enables the persistent district cache with the given TTL.
func WithChainCache(cache Cache, ttlDays int) ChainOption {
	return func(c *Chain) {
		c.cache = cache
		c.ttlDays = ttlDays
	}
}

// WithChainRetry sets the per-service retry policy for transient failures.
func WithChainRetry(cfg resilience.RetryConfig) ChainOption {
	return func(c *Chain) {
		c.retry = cfg
	}
}

// NewChain creates a Chain over the given services.
func NewChain(services []Service, opts ...ChainOption) *Chain {
	c := &Chain{
		services: services,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Service.
func (c *Chain) Name() string { return "chain" }

// Available implements Service.
func (c *Chain) Available() bool {
	for _, s := range c.services {
		if s.Available() {
			return true
		}
	}
	return false
}

// DistrictFor implements Service. The returned error is non-nil only for
// context cancellation; every other failure degrades to a StatusError
// result so the batch keeps moving.
func (c *Chain) DistrictFor(ctx context.Context, addr geocode.AddressInput) (*Result, error) {
	key := geocode.CacheKey(addr)

	if c.cache != nil {
		if cached, err := c.cache.GetDistrict(ctx, key, c.ttlDays); err == nil && cached != nil {
			zap.L().Debug("district cache hit",
				zap.String("district", cached.District),
				zap.String("status", cached.Status),
			)
			return &Result{
				District:        cached.District,
				Status:          Status(cached.Status),
				Note:            cached.Note,
				Source:          cached.Source,
				GeocodedAddress: cached.GeocodedAddress,
			}, nil
		}
	}

	var lastErr error
	for _, svc := range c.services {
		if !svc.Available() {
			continue
		}

		cfg := c.retry
		if cfg.OnRetry == nil {
			cfg.OnRetry = resilience.RetryLogger(svc.Name(), "district lookup")
		}
		result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
			return svc.DistrictFor(ctx, addr)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			zap.L().Warn("district lookup failed, trying next service",
				zap.String("service", svc.Name()),
				zap.Error(err),
			)
			continue
		}

		c.storeCache(ctx, key, result)
		return result, nil
	}

	if lastErr == nil {
		lastErr = eris.New("districts: no lookup service available")
	}
	// Not cached: a later run may find the services healthy again.
	return &Result{
		Status: StatusError,
		Note:   "lookup failed: " + lastErr.Error(),
		Source: c.Name(),
	}, nil
}

func (c *Chain) storeCache(ctx context.Context, key string, result *Result) {
	if c.cache == nil || result.Status == StatusError {
		return
	}
	err := c.cache.PutDistrict(ctx, key, store.CachedDistrict{
		District:        result.District,
		Status:          string(result.Status),
		Note:            result.Note,
		Source:          result.Source,
		GeocodedAddress: result.GeocodedAddress,
	})
	if err != nil {
		zap.L().Warn("districts: store cache", zap.Error(err))
	}
}
