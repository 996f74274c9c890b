package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Memory is an in-process oracle for tests and single-node runs. Prices are
// published directly via Publish; Refresh charges a flat per-proof fee and
// records the proofs it saw.
type Memory struct {
	mu     sync.RWMutex
	prices map[string]Price
	proofs int
	now    func() time.Time

	// FeePerProof is the fee charged per submitted proof blob.
	FeePerProof int64
}

// NewMemory creates an empty in-memory oracle. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		prices: make(map[string]Price),
		now:    now,
	}
}

var _ PriceOracle = (*Memory)(nil)

// Publish stores a price for the feed, stamped with the current time.
func (m *Memory) Publish(feedRef string, value int64, confidence uint64, exponent int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[feedRef] = Price{
		FeedRef:     feedRef,
		Value:       value,
		Confidence:  confidence,
		Exponent:    exponent,
		PublishedAt: m.now(),
	}
}

// Refresh counts the proofs and returns the flat fee owed.
func (m *Memory) Refresh(_ context.Context, proof [][]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs += len(proof)
	return m.FeePerProof * int64(len(proof)), nil
}

// GetPrice returns the latest published value inside the staleness bound.
func (m *Memory) GetPrice(_ context.Context, feedRef string, maxStaleness time.Duration) (Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[feedRef]
	if !ok {
		return Price{}, domain.ErrNotFound
	}
	if m.now().Sub(p.PublishedAt) > maxStaleness {
		return Price{}, fmt.Errorf("oracle: %s: %w", feedRef, domain.ErrStalePrice)
	}
	return p, nil
}

// ProofCount returns how many proof blobs Refresh has accepted.
func (m *Memory) ProofCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proofs
}
