// Copyright 2025 Certen Protocol
//
// Package watcher defines the capability set shared by the chain-A and
// chain-B watchers (§9: "Polymorphism over the two chains is expressed
// as... two implementations of the Watcher capability set
// {get_height, get_finalized_events, resume_from}; no base class
// needed.").
package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/certen/bridge-validator/internal/model"
)

// ErrRateLimited signals a "too many requests" style response. The poll
// loop does not treat it specially: it is retried with the same backoff
// as any other error (§4.3/4.4).
var ErrRateLimited = errors.New("watcher: rate limited")

// Watcher is the capability set a chain-specific client implements to
// participate in the shared polling state machine (§4.3/§4.4).
type Watcher interface {
	// Height returns the current chain head.
	Height(ctx context.Context) (uint64, error)
	// FinalizedEvents returns events observed in [fromBlock, toBlock],
	// inclusive, in (block, transaction-index) order.
	FinalizedEvents(ctx context.Context, fromBlock, toBlock uint64) ([]model.TransferEvent, error)
	// Chain identifies which side of the bridge this watcher serves.
	Chain() model.ChainId
}

// Config parameterizes the shared polling loop (§4.3/4.4).
type Config struct {
	FinalityDepth    uint64
	PollInterval     time.Duration
	InterblockDelay  time.Duration
	BatchCap         uint64
	Lookback         uint64 // L, used only when no persisted watermark exists
	MaxRetries       int
	RetryBaseDelay   time.Duration
	StartBlockOverride *uint64
}

// DefaultConfig returns the watcher defaults named in §4.3/4.4/§5.
func DefaultConfig() Config {
	return Config{
		PollInterval:    15 * time.Second,
		InterblockDelay: 200 * time.Millisecond,
		BatchCap:        500,
		Lookback:        20,
		MaxRetries:      5,
		RetryBaseDelay:  3 * time.Second,
	}
}
