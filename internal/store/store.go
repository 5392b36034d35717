// Copyright 2025 Certen Protocol
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/certen/bridge-validator/internal/model"
)

// Store provides high-level access to transfer, attestation, and
// watermark data in the underlying KV store.
//
// CONCURRENCY: Store assumes single-writer access per transfer record
// and is designed to be called from the Coordinator's task only. Reads
// from the status HTTP server are safe without additional locking since
// the underlying KV handles its own concurrency; Store adds an
// in-process mutex around the read-modify-write sequences
// (put_transfer_if_absent, append_attestation, update_transfer_status,
// advance_watermark, validator counters) that must be atomic, and
// around watermark reads.
type Store struct {
	kv KV
	mu sync.Mutex
}

// NewStore creates a new Store instance over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// PutTransferIfAbsent inserts a new record for e if (source, transfer_id)
// is not already present. Returns whether it was inserted.
func (s *Store) PutTransferIfAbsent(e model.TransferEvent, now int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := transferKey(e.Source, e.TransferID)
	existing, err := s.kv.Get(key)
	if err != nil {
		return false, fmt.Errorf("store: get transfer: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	record := model.NewTransferRecord(e, now)
	return true, s.putTransferRecord(record)
}

func (s *Store) putTransferRecord(r *model.TransferRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal transfer record: %w", err)
	}
	key := transferKey(r.Event.Source, r.Event.TransferID)
	if err := s.kv.Set(key, b); err != nil {
		return fmt.Errorf("store: set transfer record: %w", err)
	}
	return nil
}

// GetTransfer loads the record for (source, transferID).
func (s *Store) GetTransfer(source model.ChainId, transferID string) (*model.TransferRecord, error) {
	b, err := s.kv.Get(transferKey(source, transferID))
	if err != nil {
		return nil, fmt.Errorf("store: get transfer: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var r model.TransferRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("store: unmarshal transfer record: %w", err)
	}
	return &r, nil
}

// AppendAttestation is idempotent on (transfer_id, validator_id): it
// writes the attestation row and updates the parent record's
// attestations map atomically with respect to other callers of this
// method. Returns false without error if the attestation was already
// present.
func (s *Store) AppendAttestation(a model.Attestation, now int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getTransferLocked(a.Source, a.TransferID)
	if err != nil {
		return false, err
	}

	if !record.AddAttestation(a, now) {
		return false, nil
	}

	ab, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("store: marshal attestation: %w", err)
	}
	if err := s.kv.Set(attestKey(a.Source, a.TransferID, a.ValidatorID), ab); err != nil {
		return false, fmt.Errorf("store: set attestation: %w", err)
	}
	if err := s.putTransferRecord(record); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) getTransferLocked(source model.ChainId, transferID string) (*model.TransferRecord, error) {
	b, err := s.kv.Get(transferKey(source, transferID))
	if err != nil {
		return nil, fmt.Errorf("store: get transfer: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var r model.TransferRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("store: unmarshal transfer record: %w", err)
	}
	return &r, nil
}

// UpdateTransferStatus loads the record, applies mutate (expected to
// call TransferRecord.TransitionTo or set RelayTxID/FailureClass), and
// persists it. The Coordinator is the only caller of this method.
func (s *Store) UpdateTransferStatus(source model.ChainId, transferID string, mutate func(*model.TransferRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getTransferLocked(source, transferID)
	if err != nil {
		return err
	}
	if err := mutate(record); err != nil {
		return err
	}
	return s.putTransferRecord(record)
}

// AdvanceWatermark moves chain c's watermark to h, rejecting
// non-increasing values.
func (s *Store) AdvanceWatermark(c model.ChainId, h uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.getWatermarkLocked(c)
	if err != nil {
		return err
	}
	if h <= cur {
		return fmt.Errorf("%w: chain=%s current=%d next=%d", model.ErrWatermarkNotIncreasing, c, cur, h)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h)
	if err := s.kv.Set(watermarkKey(c), buf); err != nil {
		return fmt.Errorf("store: set watermark: %w", err)
	}
	return nil
}

// Watermark returns chain c's current watermark, or 0 if never set.
func (s *Store) Watermark(c model.ChainId) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getWatermarkLocked(c)
}

func (s *Store) getWatermarkLocked(c model.ChainId) (uint64, error) {
	b, err := s.kv.Get(watermarkKey(c))
	if err != nil {
		return 0, fmt.Errorf("store: get watermark: %w", err)
	}
	if len(b) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(b), nil
}

// ListOpenTransfers returns every record whose status is Pending,
// Attesting, or Relaying.
func (s *Store) ListOpenTransfers() ([]*model.TransferRecord, error) {
	start, end := transferScanRange()
	iter, err := s.kv.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("store: iterator: %w", err)
	}
	defer iter.Close()

	var out []*model.TransferRecord
	for ; iter.Valid(); iter.Next() {
		var r model.TransferRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("store: unmarshal transfer record: %w", err)
		}
		if r.IsOpen() {
			out = append(out, &r)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterator error: %w", err)
	}
	return out, nil
}

// Stats holds per-status counts (§4.1 get_stats).
type Stats struct {
	Pending   int `json:"pending"`
	Attesting int `json:"attesting"`
	Relaying  int `json:"relaying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// GetStats scans every transfer record and counts them by status.
func (s *Store) GetStats() (Stats, error) {
	start, end := transferScanRange()
	iter, err := s.kv.Iterator(start, end)
	if err != nil {
		return Stats{}, fmt.Errorf("store: iterator: %w", err)
	}
	defer iter.Close()

	var st Stats
	for ; iter.Valid(); iter.Next() {
		var r model.TransferRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return Stats{}, fmt.Errorf("store: unmarshal transfer record: %w", err)
		}
		switch r.Status {
		case model.StatusPending:
			st.Pending++
		case model.StatusAttesting:
			st.Attesting++
		case model.StatusRelaying:
			st.Relaying++
		case model.StatusCompleted:
			st.Completed++
		case model.StatusFailed:
			st.Failed++
		}
	}
	if err := iter.Error(); err != nil {
		return Stats{}, fmt.Errorf("store: iterator error: %w", err)
	}
	return st, nil
}

// ListAttestations returns every attestation persisted for
// (source, transferID), independent of the parent record's copy — used
// by the status HTTP surface for audit display.
func (s *Store) ListAttestations(source model.ChainId, transferID string) ([]model.Attestation, error) {
	prefix := attestScanPrefix(source, transferID)
	end := append([]byte{}, prefix...)
	end[len(end)-1]++

	iter, err := s.kv.Iterator(prefix, end)
	if err != nil {
		return nil, fmt.Errorf("store: iterator: %w", err)
	}
	defer iter.Close()

	var out []model.Attestation
	for ; iter.Valid(); iter.Next() {
		var a model.Attestation
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, fmt.Errorf("store: unmarshal attestation: %w", err)
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// ValidatorCounters is the aggregate counter row kept under
// validator:<id> (§4.1).
type ValidatorCounters struct {
	AttestationsProduced int64 `json:"attestations_produced"`
	RelaysSubmitted      int64 `json:"relays_submitted"`
}

// IncrementValidatorCounter loads, mutates, and persists the counters
// row for id.
func (s *Store) IncrementValidatorCounter(id string, mutate func(*ValidatorCounters)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := validatorKey(id)
	b, err := s.kv.Get(key)
	if err != nil {
		return fmt.Errorf("store: get validator counters: %w", err)
	}
	var c ValidatorCounters
	if len(b) > 0 {
		if err := json.Unmarshal(b, &c); err != nil {
			return fmt.Errorf("store: unmarshal validator counters: %w", err)
		}
	}
	mutate(&c)
	nb, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal validator counters: %w", err)
	}
	return s.kv.Set(key, nb)
}

// NamedValidatorCounters pairs a validator id with its counters, for
// listing (§4.1, status HTTP /validators).
type NamedValidatorCounters struct {
	ValidatorID string `json:"validator_id"`
	ValidatorCounters
}

// ListValidatorCounters returns every known validator's counters,
// ordered by the underlying KV's key iteration order.
func (s *Store) ListValidatorCounters() ([]NamedValidatorCounters, error) {
	start, end := validatorScanRange()
	iter, err := s.kv.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("store: iterator: %w", err)
	}
	defer iter.Close()

	var out []NamedValidatorCounters
	for ; iter.Valid(); iter.Next() {
		var c ValidatorCounters
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("store: unmarshal validator counters: %w", err)
		}
		id := string(iter.Key()[len(validatorPrefix):])
		out = append(out, NamedValidatorCounters{ValidatorID: id, ValidatorCounters: c})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterator error: %w", err)
	}
	return out, nil
}
