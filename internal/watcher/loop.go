// Copyright 2025 Certen Protocol
package watcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/certen/bridge-validator/internal/model"
)

// WatermarkStore is the persistence seam the poll loop needs: read the
// last durable watermark and advance it only after a batch is fully
// processed (§4.1 advance_watermark, §4.3/4.4 "Watermarks only advance
// for blocks successfully fetched and processed").
type WatermarkStore interface {
	Watermark(c model.ChainId) (uint64, error)
	AdvanceWatermark(c model.ChainId, h uint64) error
}

// EventSink receives events as they are observed, in order.
type EventSink func(event model.TransferEvent)

// Loop drives one Watcher's polling state machine (§4.3/4.4). It is an
// independent task (§5): cancellation propagates via ctx, and each
// call finishes its current atomic unit — one block range fetched and
// watermark persisted — before observing cancellation.
type Loop struct {
	w      Watcher
	store  WatermarkStore
	cfg    Config
	sink   EventSink
	logger *log.Logger
}

// NewLoop constructs a Loop for w.
func NewLoop(w Watcher, store WatermarkStore, cfg Config, sink EventSink) *Loop {
	return &Loop{
		w:      w,
		store:  store,
		cfg:    cfg,
		sink:   sink,
		logger: log.New(log.Writer(), fmt.Sprintf("[Watcher-%s] ", w.Chain()), log.LstdFlags),
	}
}

// Run blocks until ctx is cancelled, polling per §4.3/4.4's algorithm.
// wg.Done is called exactly once on return so callers can coordinate
// graceful shutdown (§5).
func (l *Loop) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	if err := l.recoverStartWatermark(ctx); err != nil {
		l.logger.Printf("failed to recover start watermark: %v", err)
		return
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

// recoverStartWatermark resumes from the persisted watermark, or seeds
// from head-D-L when none exists; an operator override forces either
// (§4.3/4.4 "Startup recovery").
func (l *Loop) recoverStartWatermark(ctx context.Context) error {
	if l.cfg.StartBlockOverride != nil {
		return l.store.AdvanceWatermark(l.w.Chain(), *l.cfg.StartBlockOverride)
	}

	existing, err := l.store.Watermark(l.w.Chain())
	if err != nil {
		return fmt.Errorf("read persisted watermark: %w", err)
	}
	if existing > 0 {
		return nil
	}

	head, err := l.w.Height(ctx)
	if err != nil {
		return fmt.Errorf("get chain height: %w", err)
	}
	seed := uint64(0)
	if head > l.cfg.FinalityDepth+l.cfg.Lookback {
		seed = head - l.cfg.FinalityDepth - l.cfg.Lookback
	}
	if seed == 0 {
		return nil
	}
	return l.store.AdvanceWatermark(l.w.Chain(), seed)
}

func (l *Loop) pollOnce(ctx context.Context) {
	head, err := l.getHeightWithRetry(ctx)
	if err != nil {
		l.logger.Printf("get height: %v", err)
		return
	}
	if head <= l.cfg.FinalityDepth {
		return
	}
	frontier := head - l.cfg.FinalityDepth

	for {
		watermark, err := l.store.Watermark(l.w.Chain())
		if err != nil {
			l.logger.Printf("read watermark: %v", err)
			return
		}
		if watermark >= frontier {
			return
		}

		batchEnd := watermark + l.cfg.BatchCap
		if batchEnd > frontier {
			batchEnd = frontier
		}

		events, err := l.getEventsWithRetry(ctx, watermark+1, batchEnd)
		if err != nil {
			l.logger.Printf("query events [%d,%d]: %v", watermark+1, batchEnd, err)
			return
		}

		for _, e := range events {
			l.sink(e)
		}

		if err := l.store.AdvanceWatermark(l.w.Chain(), batchEnd); err != nil {
			l.logger.Printf("advance watermark: %v", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.InterblockDelay):
		}
	}
}

// getHeightWithRetry applies the exponential backoff described in
// §4.3/4.4: base delay x attempt, up to MaxRetries.
func (l *Loop) getHeightWithRetry(ctx context.Context) (uint64, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		h, err := l.w.Height(ctx)
		if err == nil {
			return h, nil
		}
		lastErr = err
		if !l.backoff(ctx, attempt) {
			break
		}
	}
	return 0, fmt.Errorf("exhausted %d retries: %w", l.cfg.MaxRetries, lastErr)
}

func (l *Loop) getEventsWithRetry(ctx context.Context, from, to uint64) ([]model.TransferEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		events, err := l.w.FinalizedEvents(ctx, from, to)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !l.backoff(ctx, attempt) {
			break
		}
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", l.cfg.MaxRetries, lastErr)
}

// backoff sleeps base*attempt before the next retry and reports
// whether the caller should retry at all (false once ctx is done).
func (l *Loop) backoff(ctx context.Context, attempt int) bool {
	if attempt >= l.cfg.MaxRetries {
		return false
	}
	delay := l.cfg.RetryBaseDelay * time.Duration(attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
