// Package history implements the History Provider (§4.C): a read-only,
// point-in-time snapshot of prior persisted transactions for the Rule
// Evaluator to filter by sender and time window. Filtering itself is left
// to the evaluator, per §4.C; this package only bounds and fetches the
// snapshot.
package history

import (
	"context"
	"time"

	"github.com/riskshield/txscore/internal/cache"
	"github.com/riskshield/txscore/internal/models"
	"github.com/riskshield/txscore/internal/repositories"
)

const snapshotCacheKey = "history:snapshot"

// Provider supplies bounded history snapshots, optionally cached.
//
// Grounded on the teacher's internal/repositories/transaction_repository.go
// GetRecentByAccount query shape, generalized to "all senders" (filtering
// by sender is the evaluator's job, per §4.C) and widened from the
// source's "load every transaction" behavior to the single bounded window
// the Design Notes call for.
type Provider struct {
	txRepo *repositories.TransactionRepository
	cache  *cache.Client
	window time.Duration
	ttl    time.Duration
}

// NewProvider constructs a Provider. cache may be nil, in which case every
// call falls through to the store.
func NewProvider(txRepo *repositories.TransactionRepository, cacheClient *cache.Client, window, ttl time.Duration) *Provider {
	return &Provider{txRepo: txRepo, cache: cacheClient, window: window, ttl: ttl}
}

// Snapshot returns every transaction persisted within the configured
// lookback window, ordered chronologically. A short-lived cache entry
// absorbs repeated calls across a burst of worker iterations; a miss or a
// disabled cache is functionally identical to always querying the store.
func (p *Provider) Snapshot(ctx context.Context) ([]*models.Transaction, error) {
	if p.cache != nil {
		var cached []*models.Transaction
		if err := p.cache.Get(ctx, snapshotCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	since := time.Now().UTC().Add(-p.window)
	snapshot, err := p.txRepo.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, snapshotCacheKey, snapshot, p.ttl)
	}
	return snapshot, nil
}
