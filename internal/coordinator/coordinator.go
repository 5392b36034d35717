// Copyright 2025 Certen Protocol
//
// Package coordinator implements the Coordinator (§4.8): the event loop
// that owns every TransferRecord's status, routes newly observed and
// gossiped events through the Asset Resolver and Signing Engine,
// dedups and verifies inbound attestations, and periodically sweeps
// open records into the Relay Engine once quorum is met.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-validator/internal/gossip"
	"github.com/certen/bridge-validator/internal/model"
	"github.com/certen/bridge-validator/internal/relay"
	"github.com/certen/bridge-validator/internal/signing"
	"github.com/certen/bridge-validator/internal/store"
)

// Store is the persistence capability the Coordinator needs.
type Store interface {
	PutTransferIfAbsent(e model.TransferEvent, now int64) (bool, error)
	GetTransfer(source model.ChainId, transferID string) (*model.TransferRecord, error)
	AppendAttestation(a model.Attestation, now int64) (bool, error)
	UpdateTransferStatus(source model.ChainId, transferID string, mutate func(*model.TransferRecord) error) error
	ListOpenTransfers() ([]*model.TransferRecord, error)
	IncrementValidatorCounter(id string, mutate func(*store.ValidatorCounters)) error
}

// Resolver is the Asset Resolver capability the Coordinator needs
// (§4.5).
type Resolver interface {
	ResolveForDestination(ctx context.Context, event model.TransferEvent) (tokenRef common.Address, assetRef string, err error)
}

// Signer is the Signing Engine capability the Coordinator needs
// (§4.2).
type Signer interface {
	Sign(event model.TransferEvent, res signing.Resolution, now time.Time) (model.Attestation, error)
	Verify(att model.Attestation, expectedID string) (bool, error)
	ValidatorID(destination model.ChainId) (string, error)
}

// Relayer is the Relay Engine capability the Coordinator needs
// (§4.7).
type Relayer interface {
	Submit(ctx context.Context, record *model.TransferRecord) relay.Result
}

// Overlay is the Gossip Overlay capability the Coordinator needs
// (§4.6). Publishing is best-effort: a standalone single-validator
// deployment is valid and has no peers to publish to.
type Overlay interface {
	PublishAttestation(att model.Attestation) error
	PublishTransfer(event model.TransferEvent, selfValidatorID string) error
	PublishHeartbeat(selfValidatorID string, now time.Time) error
}

// MetricsRecorder is the optional Prometheus-backed metrics seam
// (§11 domain stack: open_transfers, attestations_total,
// relay_failures_total). A nil MetricsRecorder is valid; the
// Coordinator simply skips recording.
type MetricsRecorder interface {
	SetOpenTransfers(n int)
	IncAttestationsProduced()
	IncRelayFailures()
}

// ThresholdProvider returns the destination bridge's current quorum
// threshold (§9 "Quorum arithmetic": "fetched from the destination
// bridge on each sweep and cached for a short TTL").
type ThresholdProvider interface {
	ThresholdFor(ctx context.Context, destination model.ChainId) (int, error)
}

// Config parameterizes the Coordinator's periodic tasks (§4.8).
type Config struct {
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns the intervals named in §4.8/§5.
func DefaultConfig() Config {
	return Config{
		SweepInterval:     5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Coordinator is the sole mutator of TransferRecord.Status (§3, §4.8).
type Coordinator struct {
	store      Store
	resolver   Resolver
	signer     Signer
	relay      Relayer
	overlay    Overlay
	thresholds ThresholdProvider
	metrics    MetricsRecorder
	cfg        Config
	logger     *log.Logger

	// relaying tracks records currently handed to the Relay Engine so
	// the sweep never double-dispatches the same transfer while a
	// submission is outstanding (§5 "the sweep loop skips records
	// already in Relaying" — belt-and-suspenders with relay.Engine's
	// own in-flight tracker, since a record can be Relaying across
	// process restarts where that in-memory tracker is empty).
	mu       sync.Mutex
	relaying map[string]bool

	// pending buffers verified attestations that arrived over gossip
	// before this validator has a TransferRecord to attach them to
	// (§8 Scenario 2: no cross-message ordering is guaranteed).
	// HandleNewTransfer flushes the bucket for a transfer the moment
	// it creates that transfer's record. Keyed by model.TransferEvent.Key().
	pendingMu sync.Mutex
	pending   map[string][]model.Attestation
}

// New constructs a Coordinator. metrics may be nil.
func New(s Store, resolver Resolver, signer Signer, relayEngine Relayer, overlay Overlay, thresholds ThresholdProvider, metrics MetricsRecorder, cfg Config, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Coordinator] ", log.LstdFlags)
	}
	return &Coordinator{
		store:      s,
		resolver:   resolver,
		signer:     signer,
		relay:      relayEngine,
		overlay:    overlay,
		thresholds: thresholds,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		relaying:   make(map[string]bool),
		pending:    make(map[string][]model.Attestation),
	}
}

// HandleNewTransfer processes a freshly observed (or gossiped)
// TransferEvent per §4.8 "New TransferEvent": insert if absent; if
// inserted, resolve, sign, persist and publish our attestation, and
// move the record to Attesting. A duplicate delivery (already present)
// is a silent no-op — watcher and gossip delivery can overlap.
func (c *Coordinator) HandleNewTransfer(ctx context.Context, event model.TransferEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("coordinator: reject invalid transfer event: %w", err)
	}

	now := time.Now()
	inserted, err := c.store.PutTransferIfAbsent(event, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("coordinator: insert transfer: %w", err)
	}
	if !inserted {
		return nil
	}

	for _, buffered := range c.takePending(event.Key()) {
		if err := c.attach(buffered); err != nil {
			c.logger.Printf("attach buffered attestation %s: %v", buffered.Key(), err)
		}
	}

	if c.overlay != nil {
		if selfID, err := c.signer.ValidatorID(event.Destination); err == nil {
			if err := c.overlay.PublishTransfer(event, selfID); err != nil {
				c.logger.Printf("publish transfer %s: %v", event.Key(), err)
			}
		}
	}

	tokenRef, assetRef, err := c.resolver.ResolveForDestination(ctx, event)
	if err != nil {
		// Scenario 3: the destination bridge has no mapping for this
		// asset. This transfer can never be released; fail it now
		// rather than leaving it stuck in Pending forever.
		return c.failTransfer(event.Source, event.TransferID, "not_registered", err)
	}

	att, err := c.signer.Sign(event, signing.Resolution{TokenRef: tokenRef, AssetRef: assetRef}, now)
	if err != nil {
		if errors.Is(err, signing.ErrDestinationDisabled) {
			return c.failTransfer(event.Source, event.TransferID, "signing_disabled", err)
		}
		return fmt.Errorf("coordinator: sign attestation for %s: %w", event.Key(), err)
	}

	if _, err := c.store.AppendAttestation(att, now.UnixMilli()); err != nil {
		return fmt.Errorf("coordinator: persist our own attestation for %s: %w", event.Key(), err)
	}
	if err := c.store.IncrementValidatorCounter(att.ValidatorID, func(ctr *store.ValidatorCounters) { ctr.AttestationsProduced++ }); err != nil {
		c.logger.Printf("increment validator counter for %s: %v", att.ValidatorID, err)
	}
	if c.metrics != nil {
		c.metrics.IncAttestationsProduced()
	}

	if c.overlay != nil {
		if err := c.overlay.PublishAttestation(att); err != nil {
			c.logger.Printf("publish attestation %s: %v", att.Key(), err)
		}
	}

	if err := c.store.UpdateTransferStatus(event.Source, event.TransferID, func(r *model.TransferRecord) error {
		if r.Status != model.StatusPending {
			return nil
		}
		return r.TransitionTo(model.StatusAttesting, time.Now().UnixMilli())
	}); err != nil {
		return fmt.Errorf("coordinator: transition %s to attesting: %w", event.Key(), err)
	}
	return nil
}

// HandleInboundAttestation processes an attestation received over
// gossip per §4.8 "Inbound attestation": drop if (transfer_id,
// validator_id) already known, otherwise verify and attach. spec.md's
// "Ordering" guarantee is that no cross-message ordering is assumed, so
// this validator's own watcher may not have created the TransferRecord
// yet (§8 Scenario 2: "V2's attestation arrives via gossip before V2's
// own watcher reports the event"); such attestations are verified and
// buffered, then flushed by HandleNewTransfer once the record exists.
func (c *Coordinator) HandleInboundAttestation(att model.Attestation) error {
	record, err := c.store.GetTransfer(att.Source, att.TransferID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.buffer(att)
		}
		return fmt.Errorf("coordinator: load transfer for inbound attestation: %w", err)
	}
	if _, alreadyKnown := record.Attestations[att.ValidatorID]; alreadyKnown {
		return nil
	}
	return c.attach(att)
}

// attach verifies att and persists it against its TransferRecord, which
// must already exist.
func (c *Coordinator) attach(att model.Attestation) error {
	ok, err := c.signer.Verify(att, att.ValidatorID)
	if err != nil {
		return fmt.Errorf("coordinator: verify inbound attestation from %s: %w", att.ValidatorID, err)
	}
	if !ok {
		return fmt.Errorf("coordinator: inbound attestation from %s failed verification", att.ValidatorID)
	}
	if _, err := c.store.AppendAttestation(att, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("coordinator: attach inbound attestation from %s: %w", att.ValidatorID, err)
	}
	return nil
}

// buffer verifies att — so a forged or malformed attestation is
// rejected immediately rather than occupying memory indefinitely — and
// holds it under its (source, transfer_id) key until a matching
// TransferEvent creates a record to attach it to.
func (c *Coordinator) buffer(att model.Attestation) error {
	ok, err := c.signer.Verify(att, att.ValidatorID)
	if err != nil {
		return fmt.Errorf("coordinator: verify inbound attestation from %s: %w", att.ValidatorID, err)
	}
	if !ok {
		return fmt.Errorf("coordinator: inbound attestation from %s failed verification", att.ValidatorID)
	}

	key := fmt.Sprintf("%s:%s", att.Source, att.TransferID) // matches model.TransferEvent.Key()
	c.pendingMu.Lock()
	c.pending[key] = append(c.pending[key], att)
	c.pendingMu.Unlock()
	return nil
}

// takePending removes and returns any attestations buffered for key.
func (c *Coordinator) takePending(key string) []model.Attestation {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	buffered := c.pending[key]
	delete(c.pending, key)
	return buffered
}

func (c *Coordinator) failTransfer(source model.ChainId, transferID, class string, cause error) error {
	err := c.store.UpdateTransferStatus(source, transferID, func(r *model.TransferRecord) error {
		r.FailureClass = class
		return r.TransitionTo(model.StatusFailed, time.Now().UnixMilli())
	})
	if err != nil {
		return fmt.Errorf("coordinator: mark %s:%s failed (%s): %w (cause: %v)", source, transferID, class, err, cause)
	}
	c.logger.Printf("transfer %s:%s failed: %s: %v", source, transferID, class, cause)
	return nil
}

// Sweep implements §4.8's periodic sweep: for each open record whose
// attestation count has reached the destination's current threshold,
// invoke the Relay Engine (skipping records already being relayed).
func (c *Coordinator) Sweep(ctx context.Context) {
	records, err := c.store.ListOpenTransfers()
	if err != nil {
		c.logger.Printf("sweep: list open transfers: %v", err)
		return
	}
	if c.metrics != nil {
		c.metrics.SetOpenTransfers(len(records))
	}
	for _, record := range records {
		if !c.markRelaying(record.Event.Key()) {
			continue
		}
		c.sweepOne(ctx, record)
	}
}

func (c *Coordinator) sweepOne(ctx context.Context, record *model.TransferRecord) {
	defer c.clearRelaying(record.Event.Key())

	threshold, err := c.thresholds.ThresholdFor(ctx, record.Event.Destination)
	if err != nil {
		c.logger.Printf("sweep: fetch threshold for %s: %v", record.Event.Key(), err)
		return
	}
	if record.AttestationCount() < threshold {
		return
	}

	if err := c.store.UpdateTransferStatus(record.Event.Source, record.Event.TransferID, func(r *model.TransferRecord) error {
		if r.Status != model.StatusAttesting {
			return nil
		}
		return r.TransitionTo(model.StatusRelaying, time.Now().UnixMilli())
	}); err != nil {
		c.logger.Printf("sweep: transition %s to relaying: %v", record.Event.Key(), err)
		return
	}

	result := c.relay.Submit(ctx, record)
	c.applyRelayResult(record, result)
}

func (c *Coordinator) applyRelayResult(record *model.TransferRecord, result relay.Result) {
	event := record.Event
	switch result.Outcome {
	case relay.OutcomeInFlight:
		// Another sweep already has this one outstanding; leave status
		// as-is for the next tick.
		return
	case relay.OutcomeCompleted, relay.OutcomeAlreadyProcessed:
		err := c.store.UpdateTransferStatus(event.Source, event.TransferID, func(r *model.TransferRecord) error {
			r.RelayTxID = result.TxID
			if r.Status == model.StatusCompleted {
				return nil
			}
			return r.TransitionTo(model.StatusCompleted, time.Now().UnixMilli())
		})
		if err != nil {
			c.logger.Printf("mark %s completed: %v", event.Key(), err)
			return
		}
		if err := c.store.IncrementValidatorCounter(mustValidatorID(c.signer, event.Destination), func(ctr *store.ValidatorCounters) { ctr.RelaysSubmitted++ }); err != nil {
			c.logger.Printf("increment relay counter for %s: %v", event.Key(), err)
		}
	case relay.OutcomeTransient:
		// Stay in Relaying; the next sweep re-attempts (§4.7
		// Idempotence).
		c.logger.Printf("transient relay failure for %s: %v", event.Key(), result.Err)
	case relay.OutcomeFailed:
		if err := c.failTransfer(event.Source, event.TransferID, result.FailureClass, result.Err); err != nil {
			c.logger.Printf("mark %s failed after relay error: %v", event.Key(), err)
		}
		if c.metrics != nil {
			c.metrics.IncRelayFailures()
		}
	}
}

func mustValidatorID(s Signer, destination model.ChainId) string {
	id, err := s.ValidatorID(destination)
	if err != nil {
		return ""
	}
	return id
}

func (c *Coordinator) markRelaying(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relaying[key] {
		return false
	}
	c.relaying[key] = true
	return true
}

func (c *Coordinator) clearRelaying(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.relaying, key)
}

// Heartbeat publishes a liveness announcement on the gossip mesh
// (§4.8 "Periodic heartbeat").
func (c *Coordinator) Heartbeat(selfValidatorID string) {
	if c.overlay == nil {
		return
	}
	if err := c.overlay.PublishHeartbeat(selfValidatorID, time.Now()); err != nil {
		c.logger.Printf("publish heartbeat: %v", err)
	}
}

// RunSweepLoop runs Sweep on cfg.SweepInterval until ctx is cancelled.
func (c *Coordinator) RunSweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// RunHeartbeatLoop publishes a heartbeat every cfg.HeartbeatInterval
// until ctx is cancelled.
func (c *Coordinator) RunHeartbeatLoop(ctx context.Context, wg *sync.WaitGroup, selfValidatorID string) {
	defer wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Heartbeat(selfValidatorID)
		}
	}
}

// Handlers builds the gossip.Handlers callbacks that route inbound
// mesh traffic back into the Coordinator.
func (c *Coordinator) Handlers(ctx context.Context) gossip.Handlers {
	return gossip.Handlers{
		OnAttestation: func(att model.Attestation) {
			if err := c.HandleInboundAttestation(att); err != nil {
				c.logger.Printf("inbound attestation: %v", err)
			}
		},
		OnTransfer: func(event model.TransferEvent) {
			if err := c.HandleNewTransfer(ctx, event); err != nil {
				c.logger.Printf("inbound transfer: %v", err)
			}
		},
	}
}
