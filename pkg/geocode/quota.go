package geocode

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrQuotaExhausted indicates the daily geocoding allowance is spent.
// The cascade treats it like any provider failure and moves on.
var ErrQuotaExhausted = eris.New("geocode: daily quota exhausted")

// QuotaReserver reserves one unit of a per-day allowance.
type QuotaReserver interface {
	ReserveQuota(ctx context.Context, day string, limit int) (bool, error)
}

// QuotaGate wraps a provider with a persisted daily request quota. It fronts
// providers that bill per request or throttle by account.
type QuotaGate struct {
	inner    Provider
	reserver QuotaReserver
	limit    int
	now      func() time.Time
}

// NewQuotaGate wraps inner with a daily limit tracked through reserver.
func NewQuotaGate(inner Provider, reserver QuotaReserver, limit int) *QuotaGate {
	return &QuotaGate{inner: inner, reserver: reserver, limit: limit, now: time.Now}
}

// Name implements Provider.
func (q *QuotaGate) Name() string { return q.inner.Name() }

// Available implements Provider.
func (q *QuotaGate) Available() bool { return q.inner.Available() }

// Geocode implements Provider. The reservation happens before the inner
// call, so a failed call still burns quota; the alternative would allow
// unbounded spend on a flapping upstream.
func (q *QuotaGate) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	day := q.now().UTC().Format("2006-01-02")

	ok, err := q.reserver.ReserveQuota(ctx, day, q.limit)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: reserve quota")
	}
	if !ok {
		zap.L().Warn("geocode: daily quota exhausted",
			zap.String("provider", q.inner.Name()),
			zap.String("day", day),
			zap.Int("limit", q.limit),
		)
		return nil, ErrQuotaExhausted
	}

	return q.inner.Geocode(ctx, addr)
}
