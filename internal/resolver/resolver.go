// Copyright 2025 Certen Protocol
//
// Package resolver implements the Asset Resolver (§4.5): a pure lookup
// surface mapping a source-side token identifier to the reference the
// destination chain's verifier expects. It never signs or writes
// persistence.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-validator/internal/model"
)

// ErrNotRegistered is returned when the destination bridge has no
// mapping for the requested source-side token — the caller must move
// the transfer to Failed before signing (§4.5, Scenario 3).
var ErrNotRegistered = errors.New("resolver: token not registered on destination bridge")

// ChainBTokenLookup is the capability the resolver needs from the
// chain-B client to perform an A→B lookup: the read-only
// wavesToUnit0Token(asset_id) → address contract call (§6).
type ChainBTokenLookup interface {
	WavesToUnit0Token(ctx context.Context, assetID string) (common.Address, error)
}

// ChainATokenMapScanner is the capability the resolver needs from the
// chain-A client to perform a B→A lookup: a scan over the bridge's
// token_map_* data-row namespace (§4.5).
type ChainATokenMapScanner interface {
	ScanTokenMap(ctx context.Context) (map[string]TokenMapRow, error)
}

// TokenMapRow is one row of the A-side token_map_* namespace,
// normalised on the `unit0_address|decimals|name|symbol` shape per the
// Open Question decided in DESIGN.md.
type TokenMapRow struct {
	Unit0Address string
	Decimals     int
	Name         string
	Symbol       string
}

// ParseTokenMapRow parses the pipe-delimited row value.
func ParseTokenMapRow(value string) (TokenMapRow, error) {
	parts := strings.Split(value, "|")
	if len(parts) != 4 {
		return TokenMapRow{}, fmt.Errorf("resolver: malformed token_map row %q: expected 4 pipe-delimited fields", value)
	}
	decimals, err := strconv.Atoi(parts[1])
	if err != nil {
		return TokenMapRow{}, fmt.Errorf("resolver: malformed decimals field in row %q: %w", value, err)
	}
	return TokenMapRow{
		Unit0Address: parts[0],
		Decimals:     decimals,
		Name:         parts[2],
		Symbol:       parts[3],
	}, nil
}

// Resolver resolves the destination-side reference for a transfer.
// Results of the B→A scan are cached in-process; a miss forces a
// re-scan (§4.5).
type Resolver struct {
	chainB ChainBTokenLookup
	chainA ChainATokenMapScanner

	mu    sync.RWMutex
	cache map[string]string // lowercased B-side unit0_address -> A-side asset id
}

// New constructs a Resolver over the two chain capability seams.
func New(chainB ChainBTokenLookup, chainA ChainATokenMapScanner) *Resolver {
	return &Resolver{
		chainB: chainB,
		chainA: chainA,
		cache:  make(map[string]string),
	}
}

// ResolveForDestination returns the destination reference for event,
// dispatching on event.Destination.
func (r *Resolver) ResolveForDestination(ctx context.Context, event model.TransferEvent) (tokenRef common.Address, assetRef string, err error) {
	switch event.Destination {
	case model.ChainB:
		tokenRef, err = r.ResolveAToB(ctx, event.Token)
		return tokenRef, "", err
	case model.ChainA:
		assetRef, err = r.ResolveBToA(ctx, event.Token)
		return common.Address{}, assetRef, err
	default:
		return common.Address{}, "", fmt.Errorf("resolver: unsupported destination chain %s", event.Destination)
	}
}

// ResolveAToB maps an A-side asset id to its B-side token address via
// wavesToUnit0Token. A zero result means "not registered" (§4.5).
func (r *Resolver) ResolveAToB(ctx context.Context, assetID string) (common.Address, error) {
	addr, err := r.chainB.WavesToUnit0Token(ctx, assetID)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolver: wavesToUnit0Token(%s): %w", assetID, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: asset=%s", ErrNotRegistered, assetID)
	}
	return addr, nil
}

// ResolveBToA maps a B-side token address (hex string) to its A-side
// asset id, scanning the token_map_* namespace on a cache miss.
func (r *Resolver) ResolveBToA(ctx context.Context, token string) (string, error) {
	key := strings.ToLower(token)

	r.mu.RLock()
	if assetID, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return assetID, nil
	}
	r.mu.RUnlock()

	if err := r.rescan(ctx); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	assetID, ok := r.cache[key]
	if !ok {
		return "", fmt.Errorf("%w: token=%s", ErrNotRegistered, token)
	}
	return assetID, nil
}

// rescan rebuilds the reverse unit0_address -> asset_id index from the
// A-side bridge's token_map_* namespace (keyed by asset id suffix).
func (r *Resolver) rescan(ctx context.Context) error {
	rows, err := r.chainA.ScanTokenMap(ctx)
	if err != nil {
		return fmt.Errorf("resolver: scan token_map: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for assetID, row := range rows {
		r.cache[strings.ToLower(row.Unit0Address)] = assetID
	}
	return nil
}
