// Copyright 2025 Certen Protocol
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/bridge-validator/internal/chaina"
	"github.com/certen/bridge-validator/internal/model"
)

type fakeBChain struct {
	processed       bool
	processedErr    error
	releaseErr      error
	receiptErr      error
	receiptReverted bool
	gotSignatures   [][]byte
	releaseTokens   bool
	releaseNFTCalls int
}

func (f *fakeBChain) ProcessedTransfers(ctx context.Context, transferID [32]byte) (bool, error) {
	return f.processed, f.processedErr
}

func (f *fakeBChain) ReleaseTokensCall(ctx context.Context, auth *bind.TransactOpts, transferID [32]byte, tokenRef common.Address, amount *big.Int, recipient common.Address, kind uint8, tokenID *big.Int, signatures [][]byte) (*types.Transaction, error) {
	f.releaseTokens = true
	f.gotSignatures = signatures
	if f.releaseErr != nil {
		return nil, f.releaseErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeBChain) ReleaseNFTCall(ctx context.Context, auth *bind.TransactOpts, transferID [32]byte, tokenRef, recipient common.Address, tokenID *big.Int, signatures [][]byte) (*types.Transaction, error) {
	f.releaseNFTCalls++
	f.gotSignatures = signatures
	if f.releaseErr != nil {
		return nil, f.releaseErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeBChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	status := types.ReceiptStatusSuccessful
	if f.receiptReverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status}, nil
}

type fakeAChain struct {
	processed    bool
	processedErr error
	submitErr    error
	gotCall      chaina.ReleaseCall
}

func (f *fakeAChain) IsProcessed(ctx context.Context, transferID string) (bool, error) {
	return f.processed, f.processedErr
}

func (f *fakeAChain) SubmitRelease(ctx context.Context, call chaina.ReleaseCall, senderAddress string, senderPublicKey []byte, fee int64, sign chaina.Signer) (string, error) {
	f.gotCall = call
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "release-tx-id", nil
}

type fakeResolver struct {
	tokenRef common.Address
	assetRef string
	err      error
}

func (f *fakeResolver) ResolveForDestination(ctx context.Context, event model.TransferEvent) (common.Address, string, error) {
	return f.tokenRef, f.assetRef, f.err
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

func aEvent(transferID string) model.TransferEvent {
	return model.TransferEvent{
		TransferID:  transferID,
		Source:      model.ChainB,
		Destination: model.ChainA,
		Token:       "0xabc",
		Amount:      model.NewAmount(50),
		Recipient:   "alice_address",
		Kind:        model.FungibleWrapped,
	}
}

func withAttestations(event model.TransferEvent, atts ...model.Attestation) *model.TransferRecord {
	r := model.NewTransferRecord(event, 1000)
	for _, a := range atts {
		r.AddAttestation(a, 1001)
	}
	return r
}

func TestSubmitBAlreadyProcessed(t *testing.T) {
	chainB := &fakeBChain{processed: true}
	e := New(chainB, &fakeAChain{}, &fakeResolver{}, Config{AuthB: &bind.TransactOpts{}}, nil)

	record := withAttestations(bEvent("tx1"), model.Attestation{ValidatorID: "0x2222222222222222222222222222222222222222", Signature: []byte{1}})
	result := e.Submit(context.Background(), record)

	if result.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", result.Outcome)
	}
	if chainB.releaseTokens {
		t.Error("must not submit a release when already processed")
	}
}

func TestSubmitBCompletesAndSortsSignatures(t *testing.T) {
	chainB := &fakeBChain{}
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	e := New(chainB, &fakeAChain{}, resolver, Config{AuthB: &bind.TransactOpts{}}, nil)

	highAddr := "0xffffffffffffffffffffffffffffffffffffffff"
	lowAddr := "0x1111111111111111111111111111111111111111"
	record := withAttestations(bEvent("tx1"),
		model.Attestation{ValidatorID: highAddr, Signature: []byte("sig-high")},
		model.Attestation{ValidatorID: lowAddr, Signature: []byte("sig-low")},
	)

	result := e.Submit(context.Background(), record)
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", result.Outcome, result.Err)
	}
	if len(chainB.gotSignatures) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(chainB.gotSignatures))
	}
	if string(chainB.gotSignatures[0]) != "sig-low" || string(chainB.gotSignatures[1]) != "sig-high" {
		t.Errorf("signatures not sorted ascending by address: %v", chainB.gotSignatures)
	}
}

func TestSubmitBUsesReleaseNFTForNonFungible(t *testing.T) {
	chainB := &fakeBChain{}
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	e := New(chainB, &fakeAChain{}, resolver, Config{AuthB: &bind.TransactOpts{}}, nil)

	event := bEvent("tx-nft")
	event.Kind = model.NonFungibleExternal
	event.Amount = model.NewAmount(1)
	record := withAttestations(event, model.Attestation{ValidatorID: "0x1111111111111111111111111111111111111111", Signature: []byte{1}})

	result := e.Submit(context.Background(), record)
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", result.Outcome, result.Err)
	}
	if chainB.releaseNFTCalls != 1 {
		t.Errorf("expected releaseNFT to be called once, got %d", chainB.releaseNFTCalls)
	}
}

func TestSubmitBTransientErrorStaysRelaying(t *testing.T) {
	chainB := &fakeBChain{releaseErr: errors.New("rpc: request timeout")}
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	e := New(chainB, &fakeAChain{}, resolver, Config{AuthB: &bind.TransactOpts{}}, nil)

	record := withAttestations(bEvent("tx1"), model.Attestation{ValidatorID: "0x1111111111111111111111111111111111111111", Signature: []byte{1}})
	result := e.Submit(context.Background(), record)

	if result.Outcome != OutcomeTransient {
		t.Fatalf("expected transient outcome, got %s", result.Outcome)
	}
}

func TestSubmitBTerminalErrorFails(t *testing.T) {
	chainB := &fakeBChain{releaseErr: errors.New("execution reverted: insufficient balance")}
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	e := New(chainB, &fakeAChain{}, resolver, Config{AuthB: &bind.TransactOpts{}}, nil)

	record := withAttestations(bEvent("tx1"), model.Attestation{ValidatorID: "0x1111111111111111111111111111111111111111", Signature: []byte{1}})
	result := e.Submit(context.Background(), record)

	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", result.Outcome)
	}
}

func TestSubmitBRevertedReceiptFails(t *testing.T) {
	chainB := &fakeBChain{receiptReverted: true}
	resolver := &fakeResolver{tokenRef: common.HexToAddress("0xdead")}
	e := New(chainB, &fakeAChain{}, resolver, Config{AuthB: &bind.TransactOpts{}}, nil)

	record := withAttestations(bEvent("tx1"), model.Attestation{ValidatorID: "0x1111111111111111111111111111111111111111", Signature: []byte{1}})
	result := e.Submit(context.Background(), record)

	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome for reverted receipt, got %s", result.Outcome)
	}
}

func TestSubmitAPairsSignaturesAndPublicKeys(t *testing.T) {
	chainA := &fakeAChain{}
	resolver := &fakeResolver{assetRef: "asset123"}
	e := New(&fakeBChain{}, chainA, resolver, Config{ChainASenderAddress: "relay_addr"}, nil)

	record := withAttestations(aEvent("tx2"),
		model.Attestation{ValidatorID: "validatorB", Signature: []byte("sig-b"), PublicKey: []byte("pub-b")},
		model.Attestation{ValidatorID: "validatorA", Signature: []byte("sig-a"), PublicKey: []byte("pub-a")},
	)

	result := e.Submit(context.Background(), record)
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", result.Outcome, result.Err)
	}
	if len(chainA.gotCall.Signatures) != 2 || len(chainA.gotCall.PublicKeys) != 2 {
		t.Fatalf("expected 2 paired signatures/public keys, got sigs=%d keys=%d", len(chainA.gotCall.Signatures), len(chainA.gotCall.PublicKeys))
	}
	// Deterministic order: validatorA sorts before validatorB.
	if string(chainA.gotCall.Signatures[0]) != "sig-a" || string(chainA.gotCall.PublicKeys[0]) != "pub-a" {
		t.Errorf("expected validatorA's signature/key first, got %v / %v", chainA.gotCall.Signatures, chainA.gotCall.PublicKeys)
	}
}

func TestSubmitAMissingPublicKeyFails(t *testing.T) {
	chainA := &fakeAChain{}
	resolver := &fakeResolver{assetRef: "asset123"}
	e := New(&fakeBChain{}, chainA, resolver, Config{}, nil)

	record := withAttestations(aEvent("tx3"), model.Attestation{ValidatorID: "validatorA", Signature: []byte("sig-a")})
	result := e.Submit(context.Background(), record)

	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome for missing public key, got %s", result.Outcome)
	}
}

func TestSubmitRefusesReentrantInFlight(t *testing.T) {
	e := New(&fakeBChain{}, &fakeAChain{}, &fakeResolver{}, Config{}, nil)

	if !e.markInFlight("x") {
		t.Fatal("first markInFlight should succeed")
	}
	if e.markInFlight("x") {
		t.Fatal("second markInFlight for the same key should be refused")
	}
	e.clearInFlight("x")
	if !e.markInFlight("x") {
		t.Fatal("markInFlight should succeed again after clearInFlight")
	}
}

func TestResolutionFailureIsTerminal(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("not registered")}
	e := New(&fakeBChain{}, &fakeAChain{}, resolver, Config{AuthB: &bind.TransactOpts{}}, nil)

	record := withAttestations(bEvent("tx1"), model.Attestation{ValidatorID: "0x1111111111111111111111111111111111111111", Signature: []byte{1}})
	result := e.Submit(context.Background(), record)

	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome on resolver error, got %s", result.Outcome)
	}
}
