// Package oracle provides the price-feed collaborator: a narrow interface
// the settlement path uses to refresh and read feed values, with an HTTP
// client for a real feed service, a cache-backed decorator, and an in-memory
// implementation for tests and local runs.
package oracle

import (
	"context"
	"time"
)

// Price is one published feed value. Value is a fixed-point integer scaled by
// 10^Exponent (Exponent is typically negative).
type Price struct {
	FeedRef     string
	Value       int64
	Confidence  uint64
	Exponent    int32
	PublishedAt time.Time
}

// PriceOracle is the slice of the feed service the engine consumes. Refresh
// submits update proofs and returns the fee owed for the update; GetPrice
// returns the latest value no older than maxStaleness.
type PriceOracle interface {
	Refresh(ctx context.Context, proof [][]byte) (feeOwed int64, err error)
	GetPrice(ctx context.Context, feedRef string, maxStaleness time.Duration) (Price, error)
}
