package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// priceTTL evicts feed values that nothing has refreshed; a price that old is
// useless under any staleness bound the engine accepts.
const priceTTL = 5 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. Each feed's
// latest value is a hash at "price:{feedRef}" with fields "value" (fixed-point
// integer), "exp" (decimal exponent), and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(feedRef string) string {
	return "price:" + feedRef
}

// SetPrice stores the latest value for a feed.
func (pc *PriceCache) SetPrice(ctx context.Context, feedRef string, value int64, exponent int32, publishedAt time.Time) error {
	key := priceKey(feedRef)
	fields := map[string]interface{}{
		"value": strconv.FormatInt(value, 10),
		"exp":   strconv.FormatInt(int64(exponent), 10),
		"ts":    strconv.FormatInt(publishedAt.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", feedRef, err)
	}
	return nil
}

// GetPrice retrieves the latest value for a feed. It returns
// domain.ErrNotFound when no value is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, feedRef string) (int64, int32, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(feedRef)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", feedRef, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	value, err := strconv.ParseInt(vals["value"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse price value %s: %w", feedRef, err)
	}
	exp, err := strconv.ParseInt(vals["exp"], 10, 32)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse price exponent %s: %w", feedRef, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse price ts %s: %w", feedRef, err)
	}

	return value, int32(exp), time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
