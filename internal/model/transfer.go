// Copyright 2025 Certen Protocol
package model

import "fmt"

// TransferEvent is the immutable record of a lock event observed on the
// source chain. (transfer_id, source) is the global primary key.
type TransferEvent struct {
	TransferID  string    `json:"transfer_id"`
	Source      ChainId   `json:"source"`
	Destination ChainId   `json:"destination"`
	Token       string    `json:"token"`
	Amount      Amount    `json:"amount"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Kind        TokenKind `json:"kind"`
	TokenID     *uint64   `json:"token_id,omitempty"`
	SrcBlock    uint64    `json:"src_block"`
	SrcTx       string    `json:"src_tx"`
	ObservedAt  int64     `json:"observed_at"`
}

// Key returns the primary-key string used for persistence lookups.
func (e TransferEvent) Key() string {
	return fmt.Sprintf("%s:%s", e.Source, e.TransferID)
}

// Validate rejects events that violate the ingestion-time invariants
// from §8: source must differ from destination, amount must be
// non-zero, and a non-fungible transfer's amount must be exactly 1.
func (e TransferEvent) Validate() error {
	if !e.Source.IsValid() || !e.Destination.IsValid() {
		return fmt.Errorf("%w: source=%s destination=%s", ErrInvalidChain, e.Source, e.Destination)
	}
	if e.Source == e.Destination {
		return fmt.Errorf("%w: %s", ErrSameChain, e.Source)
	}
	if e.Amount.IsZero() || e.Amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, e.Amount)
	}
	if !e.Kind.IsFungible() && e.Amount.Big().Cmp(oneBig) != 0 {
		return fmt.Errorf("%w: kind=%s amount=%s", ErrNonFungibleAmount, e.Kind, e.Amount)
	}
	return nil
}

// TokenIDOrZero returns TokenID if set, 0 otherwise — the default for
// fungible transfers (§4.2 edge cases).
func (e TransferEvent) TokenIDOrZero() uint64 {
	if e.TokenID == nil {
		return 0
	}
	return *e.TokenID
}

// Attestation is a single validator's signed statement that a
// TransferEvent occurred and should be released on the destination
// chain.
type Attestation struct {
	TransferID    string  `json:"transfer_id"`
	Source        ChainId `json:"source"`
	Destination   ChainId `json:"destination"`
	ValidatorID   string  `json:"validator_id"`
	Signature     []byte  `json:"signature"`
	PublicKey     []byte  `json:"public_key,omitempty"`
	MessageDigest []byte  `json:"message_digest"`
	ProducedAt    int64   `json:"produced_at"`
}

// Key returns the per-validator dedup key (transfer_id, validator_id).
func (a Attestation) Key() string {
	return fmt.Sprintf("%s:%s:%s", a.Source, a.TransferID, a.ValidatorID)
}

// Status is a TransferRecord's position in the monotonic state machine
// described in §3.
type Status uint8

const (
	StatusPending Status = iota
	StatusAttesting
	StatusRelaying
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAttesting:
		return "attesting"
	case StatusRelaying:
		return "relaying"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// transitionRank gives each status a monotonic ordinal. Failed sits
// outside the main line (reachable from any non-terminal status) so it
// is handled separately in CanTransitionTo rather than by rank alone.
var transitionRank = map[Status]int{
	StatusPending:   0,
	StatusAttesting: 1,
	StatusRelaying:  2,
	StatusCompleted: 3,
}

// CanTransitionTo reports whether moving from s to next is a legal
// state-machine edge. Failed is terminal and reachable from any
// non-terminal, non-completed status; Completed and Failed accept no
// further transitions (an operator reset back to Pending is a distinct,
// explicit administrative action, not a transition the state machine
// itself permits).
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusCompleted || s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	sr, ok1 := transitionRank[s]
	nr, ok2 := transitionRank[next]
	if !ok1 || !ok2 {
		return false
	}
	return nr == sr+1
}

// TransferRecord is the mutable aggregate tying a TransferEvent to the
// attestations gathered for it. The Coordinator is the only component
// that mutates Status.
type TransferRecord struct {
	Event        TransferEvent          `json:"event"`
	Attestations map[string]Attestation `json:"attestations"`
	Status       Status                 `json:"status"`
	RelayTxID    string                 `json:"relay_tx_id,omitempty"`
	FailureClass string                 `json:"failure_class,omitempty"`
	CreatedAt    int64                  `json:"created_at"`
	UpdatedAt    int64                  `json:"updated_at"`
}

// NewTransferRecord builds a fresh record in status Pending.
func NewTransferRecord(e TransferEvent, now int64) *TransferRecord {
	return &TransferRecord{
		Event:        e,
		Attestations: make(map[string]Attestation),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AddAttestation inserts a, keyed by validator id, returning false
// without mutating the record if that validator already has one
// (§3 "at most one attestation per (transfer_id, validator_id)").
func (r *TransferRecord) AddAttestation(a Attestation, now int64) bool {
	if _, exists := r.Attestations[a.ValidatorID]; exists {
		return false
	}
	r.Attestations[a.ValidatorID] = a
	r.UpdatedAt = now
	return true
}

// AttestationCount returns the number of distinct validator
// attestations gathered so far.
func (r *TransferRecord) AttestationCount() int {
	return len(r.Attestations)
}

// TransitionTo moves the record to next, enforcing the monotonic
// status graph. It is the only mutator of Status and is expected to be
// called exclusively by the Coordinator.
func (r *TransferRecord) TransitionTo(next Status, now int64) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// IsOpen reports whether the record is still subject to the
// Coordinator's sweep (§4.1 list_open_transfers).
func (r *TransferRecord) IsOpen() bool {
	switch r.Status {
	case StatusPending, StatusAttesting, StatusRelaying:
		return true
	default:
		return false
	}
}

// Watermarks tracks the highest source-chain block whose events have
// been durably processed, per chain.
type Watermarks struct {
	LastFinalizedA uint64 `json:"last_finalized_a"`
	LastFinalizedB uint64 `json:"last_finalized_b"`
}

// For returns the watermark for the given chain.
func (w Watermarks) For(c ChainId) uint64 {
	switch c {
	case ChainA:
		return w.LastFinalizedA
	case ChainB:
		return w.LastFinalizedB
	default:
		return 0
	}
}

// WithAdvance returns a copy of w with chain c's watermark set to h,
// refusing to go backwards (§4.1 "monotonic; rejects non-increasing").
func (w Watermarks) WithAdvance(c ChainId, h uint64) (Watermarks, error) {
	if h <= w.For(c) {
		return w, fmt.Errorf("%w: chain=%s current=%d next=%d", ErrWatermarkNotIncreasing, c, w.For(c), h)
	}
	next := w
	switch c {
	case ChainA:
		next.LastFinalizedA = h
	case ChainB:
		next.LastFinalizedB = h
	default:
		return w, fmt.Errorf("%w: %s", ErrInvalidChain, c)
	}
	return next, nil
}

// ValidatorSet is the read-only set of active validator identities and
// the quorum threshold, fetched from the destination chain.
type ValidatorSet struct {
	Validators []string `json:"validators"`
	Threshold  int      `json:"threshold"`
	FetchedAt  int64    `json:"fetched_at"`
}

// IsValidator reports whether id is a member of the active set.
func (v ValidatorSet) IsValidator(id string) bool {
	for _, m := range v.Validators {
		if m == id {
			return true
		}
	}
	return false
}

// ThresholdMet reports whether count distinct attestations satisfy
// quorum.
func (v ValidatorSet) ThresholdMet(count int) bool {
	return count >= v.Threshold
}
