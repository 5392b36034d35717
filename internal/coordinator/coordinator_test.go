// Copyright 2025 Certen Protocol
package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/certen/bridge-validator/internal/model"
	"github.com/certen/bridge-validator/internal/relay"
	"github.com/certen/bridge-validator/internal/signing"
	"github.com/certen/bridge-validator/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// fakeStore is a minimal in-memory stand-in for internal/store.Store,
// sufficient to exercise the Coordinator's call patterns without a
// real cometbft-db-backed store.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*model.TransferRecord
	counters map[string]*store.ValidatorCounters
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]*model.TransferRecord),
		counters: make(map[string]*store.ValidatorCounters),
	}
}

func (f *fakeStore) PutTransferIfAbsent(e model.TransferEvent, now int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[e.Key()]; ok {
		return false, nil
	}
	f.records[e.Key()] = model.NewTransferRecord(e, now)
	return true, nil
}

func (f *fakeStore) GetTransfer(source model.ChainId, transferID string) (*model.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := (model.TransferEvent{Source: source, TransferID: transferID}).Key()
	r, ok := f.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) AppendAttestation(a model.Attestation, now int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := (model.TransferEvent{Source: a.Source, TransferID: a.TransferID}).Key()
	r, ok := f.records[key]
	if !ok {
		return false, store.ErrNotFound
	}
	return r.AddAttestation(a, now), nil
}

func (f *fakeStore) UpdateTransferStatus(source model.ChainId, transferID string, mutate func(*model.TransferRecord) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := (model.TransferEvent{Source: source, TransferID: transferID}).Key()
	r, ok := f.records[key]
	if !ok {
		return store.ErrNotFound
	}
	return mutate(r)
}

func (f *fakeStore) ListOpenTransfers() ([]*model.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.TransferRecord
	for _, r := range f.records {
		if r.IsOpen() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) IncrementValidatorCounter(id string, mutate func(*store.ValidatorCounters)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.counters[id]
	if !ok {
		ctr = &store.ValidatorCounters{}
		f.counters[id] = ctr
	}
	mutate(ctr)
	return nil
}

type fakeResolver struct {
	tokenRef common.Address
	assetRef string
	err      error
}

func (f *fakeResolver) ResolveForDestination(ctx context.Context, event model.TransferEvent) (common.Address, string, error) {
	return f.tokenRef, f.assetRef, f.err
}

type fakeSigner struct {
	validatorID string
	signErr     error
	verifyOK    bool
	verifyErr   error
}

func (f *fakeSigner) Sign(event model.TransferEvent, res signing.Resolution, now time.Time) (model.Attestation, error) {
	if f.signErr != nil {
		return model.Attestation{}, f.signErr
	}
	return model.Attestation{
		TransferID:  event.TransferID,
		Source:      event.Source,
		Destination: event.Destination,
		ValidatorID: f.validatorID,
		Signature:   []byte("sig"),
		PublicKey:   []byte("pub"),
		ProducedAt:  now.UnixMilli(),
	}, nil
}

func (f *fakeSigner) Verify(att model.Attestation, expectedID string) (bool, error) {
	return f.verifyOK, f.verifyErr
}

func (f *fakeSigner) ValidatorID(destination model.ChainId) (string, error) {
	return f.validatorID, nil
}

type fakeRelayer struct {
	result relay.Result
	calls  int
}

func (f *fakeRelayer) Submit(ctx context.Context, record *model.TransferRecord) relay.Result {
	f.calls++
	return f.result
}

type fakeOverlay struct {
	attestations []model.Attestation
	transfers    []model.TransferEvent
	heartbeats   int
}

func (f *fakeOverlay) PublishAttestation(att model.Attestation) error {
	f.attestations = append(f.attestations, att)
	return nil
}

func (f *fakeOverlay) PublishTransfer(event model.TransferEvent, selfValidatorID string) error {
	f.transfers = append(f.transfers, event)
	return nil
}

func (f *fakeOverlay) PublishHeartbeat(selfValidatorID string, now time.Time) error {
	f.heartbeats++
	return nil
}

type fakeThresholds struct {
	value int
	err   error
}

func (f *fakeThresholds) ThresholdFor(ctx context.Context, destination model.ChainId) (int, error) {
	return f.value, f.err
}

func bEvent(transferID string) model.TransferEvent {
	return model.TransferEvent{
		TransferID:  transferID,
		Source:      model.ChainA,
		Destination: model.ChainB,
		Token:       "WAVES",
		Amount:      model.NewAmount(100),
		Recipient:   "0x1111111111111111111111111111111111111111",
		Kind:        model.FungibleExternal,
	}
}

func TestHandleNewTransferResolvesSignsAndAttests(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	overlay := &fakeOverlay{}
	c := New(s, resolver, signer, &fakeRelayer{}, overlay, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	record, err := s.GetTransfer(event.Source, event.TransferID)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if record.Status != model.StatusAttesting {
		t.Fatalf("expected status attesting, got %s", record.Status)
	}
	if len(record.Attestations) != 1 {
		t.Fatalf("expected 1 attestation, got %d", len(record.Attestations))
	}
	if len(overlay.attestations) != 1 || len(overlay.transfers) != 1 {
		t.Fatalf("expected overlay publish of both transfer and attestation, got transfers=%d attestations=%d", len(overlay.transfers), len(overlay.attestations))
	}
}

func TestHandleNewTransferDuplicateIsNoop(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	c := New(s, resolver, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("first HandleNewTransfer: %v", err)
	}
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("second HandleNewTransfer: %v", err)
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if len(record.Attestations) != 1 {
		t.Fatalf("duplicate delivery must not re-sign, got %d attestations", len(record.Attestations))
	}
}

func TestHandleNewTransferResolverMissFailsRecord(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{err: errors.New("asset not registered")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	c := New(s, resolver, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if record.Status != model.StatusFailed {
		t.Fatalf("expected status failed on resolver miss, got %s", record.Status)
	}
	if record.FailureClass != "not_registered" {
		t.Errorf("expected failure class not_registered, got %q", record.FailureClass)
	}
}

func TestHandleNewTransferDisabledDestinationFailsRecord(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "v1", signErr: signing.ErrDestinationDisabled}
	c := New(s, resolver, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if record.Status != model.StatusFailed {
		t.Fatalf("expected status failed when signing is disabled, got %s", record.Status)
	}
}

func TestHandleInboundAttestationDedupsAndVerifies(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111", verifyOK: true}
	c := New(s, resolver, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	peerAtt := model.Attestation{
		TransferID:  event.TransferID,
		Source:      event.Source,
		Destination: event.Destination,
		ValidatorID: "0x2222222222222222222222222222222222222222",
		Signature:   []byte("peer-sig"),
	}
	if err := c.HandleInboundAttestation(peerAtt); err != nil {
		t.Fatalf("HandleInboundAttestation: %v", err)
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if len(record.Attestations) != 2 {
		t.Fatalf("expected 2 attestations after inbound, got %d", len(record.Attestations))
	}

	// Duplicate delivery of the same attestation must not error nor
	// call Verify again in a way that changes the record.
	if err := c.HandleInboundAttestation(peerAtt); err != nil {
		t.Fatalf("duplicate HandleInboundAttestation: %v", err)
	}
	if len(record.Attestations) != 2 {
		t.Fatalf("expected still 2 attestations after duplicate delivery, got %d", len(record.Attestations))
	}
}

func TestHandleInboundAttestationUnknownTransferIsBuffered(t *testing.T) {
	s := newFakeStore()
	signer := &fakeSigner{verifyOK: true}
	c := New(s, &fakeResolver{}, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	att := model.Attestation{TransferID: "unknown", Source: model.ChainA, ValidatorID: "v1"}
	if err := c.HandleInboundAttestation(att); err != nil {
		t.Fatalf("expected nil error for unknown transfer, got %v", err)
	}
	if len(c.pending) != 1 {
		t.Fatalf("expected the attestation to be buffered, got %d pending keys", len(c.pending))
	}
}

// TestHandleInboundAttestationArrivesBeforeRecordIsRecoveredOnCreate
// exercises §8 Scenario 2: a peer's attestation for a transfer this
// validator hasn't observed yet must still end up attached once the
// record is created, not be silently lost.
func TestHandleInboundAttestationArrivesBeforeRecordIsRecoveredOnCreate(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111", verifyOK: true}
	c := New(s, resolver, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	peerAtt := model.Attestation{
		TransferID: event.TransferID, Source: event.Source, Destination: event.Destination,
		ValidatorID: "0x2222222222222222222222222222222222222222", Signature: []byte("sig"),
	}

	if err := c.HandleInboundAttestation(peerAtt); err != nil {
		t.Fatalf("HandleInboundAttestation (pre-record): %v", err)
	}
	if _, err := s.GetTransfer(event.Source, event.TransferID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no record yet, got err=%v", err)
	}

	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	record, err := s.GetTransfer(event.Source, event.TransferID)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if len(record.Attestations) != 2 {
		t.Fatalf("expected 2 attestations (self + recovered peer), got %d", len(record.Attestations))
	}
	if _, ok := record.Attestations[peerAtt.ValidatorID]; !ok {
		t.Fatalf("expected peer attestation %q to have been recovered, got %+v", peerAtt.ValidatorID, record.Attestations)
	}
	if len(c.pending) != 0 {
		t.Fatalf("expected pending bucket to be drained, got %d keys left", len(c.pending))
	}
}

func TestHandleInboundAttestationFailsVerification(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111", verifyOK: false}
	c := New(s, resolver, signer, &fakeRelayer{}, nil, &fakeThresholds{}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	bad := model.Attestation{
		TransferID: event.TransferID, Source: event.Source, Destination: event.Destination,
		ValidatorID: "0x2222222222222222222222222222222222222222", Signature: []byte("bad"),
	}
	if err := c.HandleInboundAttestation(bad); err == nil {
		t.Fatal("expected error for failed verification")
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if len(record.Attestations) != 1 {
		t.Fatalf("a failed-verification attestation must not attach, got %d", len(record.Attestations))
	}
}

func TestSweepSkipsBelowThreshold(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	relayer := &fakeRelayer{result: relay.Result{Outcome: relay.OutcomeCompleted, TxID: "tx"}}
	c := New(s, resolver, signer, relayer, nil, &fakeThresholds{value: 2}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	c.Sweep(context.Background())
	if relayer.calls != 0 {
		t.Fatalf("expected no relay call below threshold, got %d", relayer.calls)
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if record.Status != model.StatusAttesting {
		t.Fatalf("expected status to remain attesting, got %s", record.Status)
	}
}

func TestSweepRelaysOnceThresholdMet(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	relayer := &fakeRelayer{result: relay.Result{Outcome: relay.OutcomeCompleted, TxID: "release-tx"}}
	c := New(s, resolver, signer, relayer, nil, &fakeThresholds{value: 1}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	c.Sweep(context.Background())
	if relayer.calls != 1 {
		t.Fatalf("expected exactly 1 relay call, got %d", relayer.calls)
	}

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if record.Status != model.StatusCompleted {
		t.Fatalf("expected status completed, got %s", record.Status)
	}
	if record.RelayTxID != "release-tx" {
		t.Errorf("expected relay tx id recorded, got %q", record.RelayTxID)
	}
}

func TestSweepTransientOutcomeStaysRelaying(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	relayer := &fakeRelayer{result: relay.Result{Outcome: relay.OutcomeTransient, Err: errors.New("timeout")}}
	c := New(s, resolver, signer, relayer, nil, &fakeThresholds{value: 1}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	c.Sweep(context.Background())

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if record.Status != model.StatusRelaying {
		t.Fatalf("expected status to remain relaying after a transient failure, got %s", record.Status)
	}

	// Next sweep retries.
	c.Sweep(context.Background())
	if relayer.calls != 2 {
		t.Fatalf("expected a retry on the next sweep, got %d calls", relayer.calls)
	}
}

func TestSweepFailedOutcomeFailsRecord(t *testing.T) {
	s := newFakeStore()
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	signer := &fakeSigner{validatorID: "0x1111111111111111111111111111111111111111"}
	relayer := &fakeRelayer{result: relay.Result{Outcome: relay.OutcomeFailed, FailureClass: "reverted", Err: errors.New("reverted")}}
	c := New(s, resolver, signer, relayer, nil, &fakeThresholds{value: 1}, nil, DefaultConfig(), nil)

	event := bEvent("tx1")
	if err := c.HandleNewTransfer(context.Background(), event); err != nil {
		t.Fatalf("HandleNewTransfer: %v", err)
	}

	c.Sweep(context.Background())

	record, _ := s.GetTransfer(event.Source, event.TransferID)
	if record.Status != model.StatusFailed {
		t.Fatalf("expected status failed, got %s", record.Status)
	}
	if record.FailureClass != "reverted" {
		t.Errorf("expected failure class reverted, got %q", record.FailureClass)
	}
}

func TestHeartbeatPublishesToOverlay(t *testing.T) {
	overlay := &fakeOverlay{}
	c := New(newFakeStore(), &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, overlay, &fakeThresholds{}, nil, DefaultConfig(), nil)

	c.Heartbeat("self-id")
	if overlay.heartbeats != 1 {
		t.Fatalf("expected 1 heartbeat published, got %d", overlay.heartbeats)
	}
}
