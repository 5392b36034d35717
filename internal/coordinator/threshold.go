// Copyright 2025 Certen Protocol
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/certen/bridge-validator/internal/model"
)

// ChainBThresholdSource is the chain-B read seam (internal/chainb.Client).
type ChainBThresholdSource interface {
	ValidatorThreshold(ctx context.Context) (int, error)
}

// ChainAThresholdSource is the chain-A read seam (internal/chaina.Client).
type ChainAThresholdSource interface {
	ValidatorThreshold(ctx context.Context) (int, error)
}

// CachedThresholdProvider fetches the destination bridge's quorum
// threshold on demand and caches each result for a short TTL (§9
// "Quorum arithmetic": "the threshold is read from the destination
// bridge on each sweep, cached briefly to avoid hammering the node on
// every tick"). A stale read never blocks a sweep that would otherwise
// succeed: a cache-refresh error simply falls back to the last known
// value when one is available.
type CachedThresholdProvider struct {
	chainB ChainBThresholdSource
	chainA ChainAThresholdSource
	ttl    time.Duration

	mu    sync.Mutex
	cache map[model.ChainId]cachedValue
}

type cachedValue struct {
	value     int
	fetchedAt time.Time
}

// NewCachedThresholdProvider constructs a provider with the given TTL.
func NewCachedThresholdProvider(chainB ChainBThresholdSource, chainA ChainAThresholdSource, ttl time.Duration) *CachedThresholdProvider {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &CachedThresholdProvider{
		chainB: chainB,
		chainA: chainA,
		ttl:    ttl,
		cache:  make(map[model.ChainId]cachedValue),
	}
}

// ThresholdFor returns destination's current quorum threshold.
func (p *CachedThresholdProvider) ThresholdFor(ctx context.Context, destination model.ChainId) (int, error) {
	p.mu.Lock()
	if cached, ok := p.cache[destination]; ok && time.Since(cached.fetchedAt) < p.ttl {
		p.mu.Unlock()
		return cached.value, nil
	}
	p.mu.Unlock()

	var (
		value int
		err   error
	)
	switch destination {
	case model.ChainB:
		value, err = p.chainB.ValidatorThreshold(ctx)
	case model.ChainA:
		value, err = p.chainA.ValidatorThreshold(ctx)
	default:
		return 0, fmt.Errorf("coordinator: unsupported threshold destination %s", destination)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if cached, ok := p.cache[destination]; ok {
			return cached.value, nil
		}
		return 0, fmt.Errorf("coordinator: fetch threshold for %s: %w", destination, err)
	}
	p.cache[destination] = cachedValue{value: value, fetchedAt: time.Now()}
	return value, nil
}
