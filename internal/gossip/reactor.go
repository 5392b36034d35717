// Copyright 2025 Certen Protocol
package gossip

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/p2p/conn"

	"github.com/certen/bridge-validator/internal/model"
)

const (
	chanAttestations      = byte(0x30)
	chanTransfers         = byte(0x31)
	chanValidatorAnnounce = byte(0x32)

	maxMsgSize = 1 << 20 // 1 MiB, generous for a single attestation/transfer payload

	// driftHorizon drops messages older than this per §4.6.
	driftHorizon = 10 * time.Minute

	// seenTTL bounds how long a message hash is retained purely for
	// duplicate suppression (independent of driftHorizon, which is
	// about message content age, not local bookkeeping).
	seenTTL = driftHorizon
)

// Handlers are the Coordinator callbacks the reactor dispatches
// verified, fresh, non-duplicate messages to. Signature/validator-set
// verification of attestations is the Coordinator's job (it alone holds
// the Signing Engine); the reactor only filters by known validator id
// for validator-announce/heartbeat traffic and drops stale/duplicate
// envelopes before handing off.
type Handlers struct {
	OnAttestation func(model.Attestation)
	OnTransfer    func(model.TransferEvent)
	OnAnnounce    func(ValidatorAnnounce)
}

// IsKnownValidator reports whether id is a member of the active
// validator set, used to cheaply drop validator-announce/heartbeat
// traffic from unknown senders (§4.6, §9).
type IsKnownValidator func(id string) bool

// Reactor implements p2p.Reactor, fanning inbound envelopes on the
// three gossip channels out to Handlers, and exposing Broadcast methods
// the Overlay uses to publish.
type Reactor struct {
	*p2p.BaseReactor

	handlers   Handlers
	isKnown    IsKnownValidator
	selfSender string
	logger     *log.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewReactor constructs a Reactor. selfSender is this node's own
// validator id, used so the reactor can recognize (and skip
// re-dispatching) envelopes that happen to loop back to us over a mesh
// topology (§4.6 "self-published messages must not round-trip back").
func NewReactor(handlers Handlers, isKnown IsKnownValidator, selfSender string, logger *log.Logger) *Reactor {
	if logger == nil {
		logger = log.New(log.Writer(), "[Gossip] ", log.LstdFlags)
	}
	r := &Reactor{
		handlers:   handlers,
		isKnown:    isKnown,
		selfSender: selfSender,
		logger:     logger,
		seen:       make(map[string]time.Time),
	}
	r.BaseReactor = p2p.NewBaseReactor("GossipReactor", r)
	return r
}

// GetChannels implements p2p.Reactor.
func (r *Reactor) GetChannels() []*conn.ChannelDescriptor {
	return []*conn.ChannelDescriptor{
		{ID: chanAttestations, Priority: 6, SendQueueCapacity: 200, RecvMessageCapacity: maxMsgSize, RecvBufferCapacity: 50 * maxMsgSize},
		{ID: chanTransfers, Priority: 5, SendQueueCapacity: 200, RecvMessageCapacity: maxMsgSize, RecvBufferCapacity: 50 * maxMsgSize},
		{ID: chanValidatorAnnounce, Priority: 3, SendQueueCapacity: 50, RecvMessageCapacity: maxMsgSize, RecvBufferCapacity: 10 * maxMsgSize},
	}
}

// Receive implements p2p.Reactor: decode the envelope, apply
// drift-horizon and duplicate filtering, then dispatch by channel.
func (r *Reactor) Receive(chID byte, peer p2p.Peer, msgBytes []byte) {
	if err := r.processEnvelope(chID, msgBytes); err != nil {
		r.logger.Printf("dropping message from %s on channel %d: %v", peer.ID(), chID, err)
	}
}

// processEnvelope holds the decode/filter/dispatch logic, kept separate
// from Receive so it is testable without a p2p.Peer fixture.
func (r *Reactor) processEnvelope(chID byte, msgBytes []byte) error {
	var env Envelope
	if err := json.Unmarshal(msgBytes, &env); err != nil {
		return fmt.Errorf("malformed envelope: %w", err)
	}
	if env.SenderValidatorID == r.selfSender {
		return nil
	}
	if time.Since(time.UnixMilli(env.SentAtMs)) > driftHorizon {
		return nil
	}
	if r.markAndCheckDuplicate(msgBytes) {
		return nil
	}

	switch chID {
	case chanAttestations:
		r.handleAttestation(env)
	case chanTransfers:
		r.handleTransfer(env)
	case chanValidatorAnnounce:
		r.handleAnnounce(env)
	default:
		return fmt.Errorf("unknown channel %d", chID)
	}
	return nil
}

func (r *Reactor) markAndCheckDuplicate(msgBytes []byte) bool {
	key := hash(msgBytes)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, seenAt := range r.seen {
		if now.Sub(seenAt) > seenTTL {
			delete(r.seen, k)
		}
	}
	if _, ok := r.seen[key]; ok {
		return true
	}
	r.seen[key] = now
	return false
}

func (r *Reactor) handleAttestation(env Envelope) {
	if r.handlers.OnAttestation == nil {
		return
	}
	var att model.Attestation
	if err := json.Unmarshal(env.Payload, &att); err != nil {
		r.logger.Printf("malformed attestation payload: %v", err)
		return
	}
	r.handlers.OnAttestation(att)
}

func (r *Reactor) handleTransfer(env Envelope) {
	if r.handlers.OnTransfer == nil {
		return
	}
	var event model.TransferEvent
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		r.logger.Printf("malformed transfer payload: %v", err)
		return
	}
	r.handlers.OnTransfer(event)
}

func (r *Reactor) handleAnnounce(env Envelope) {
	if !r.isKnown(env.SenderValidatorID) {
		return
	}
	if r.handlers.OnAnnounce == nil {
		return
	}
	var announce ValidatorAnnounce
	if err := json.Unmarshal(env.Payload, &announce); err != nil {
		r.logger.Printf("malformed validator-announce payload: %v", err)
		return
	}
	r.handlers.OnAnnounce(announce)
}

// broadcast encodes and fans env out to every connected peer on chID.
// It does not block on slow peers beyond the channel's send queue.
func (r *Reactor) broadcast(chID byte, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if r.Switch == nil {
		// Standalone node: no peers configured is a valid deployment (§4.6).
		return nil
	}
	r.Switch.Broadcast(chID, data)
	return nil
}
