package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Cached wraps a PriceOracle with a shared price cache: reads are served from
// the cache while fresh enough, and every upstream read writes through. The
// confidence field is not cached; cache hits report zero confidence.
type Cached struct {
	upstream PriceOracle
	cache    domain.PriceCache
	now      func() time.Time
}

// NewCached creates a cache-backed oracle. now may be nil.
func NewCached(upstream PriceOracle, cache domain.PriceCache, now func() time.Time) *Cached {
	if now == nil {
		now = time.Now
	}
	return &Cached{upstream: upstream, cache: cache, now: now}
}

var _ PriceOracle = (*Cached)(nil)

// Refresh passes straight through to the upstream service.
func (c *Cached) Refresh(ctx context.Context, proof [][]byte) (int64, error) {
	return c.upstream.Refresh(ctx, proof)
}

// GetPrice serves from the cache when the cached value is inside the
// staleness bound, otherwise reads upstream and writes the result through.
// Cache failures degrade to upstream reads, never to request failures.
func (c *Cached) GetPrice(ctx context.Context, feedRef string, maxStaleness time.Duration) (Price, error) {
	value, exponent, publishedAt, err := c.cache.GetPrice(ctx, feedRef)
	if err == nil && c.now().Sub(publishedAt) <= maxStaleness {
		return Price{
			FeedRef:     feedRef,
			Value:       value,
			Exponent:    exponent,
			PublishedAt: publishedAt,
		}, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		// Cache trouble is not a price error; fall through to upstream.
		err = nil
	}

	p, err := c.upstream.GetPrice(ctx, feedRef, maxStaleness)
	if err != nil {
		return Price{}, err
	}
	// Best effort; a failed write-through only costs the next read a trip
	// upstream.
	_ = c.cache.SetPrice(ctx, feedRef, p.Value, p.Exponent, p.PublishedAt)
	return p, nil
}
