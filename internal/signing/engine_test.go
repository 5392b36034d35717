// Copyright 2025 Certen Protocol
package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/bridge-validator/internal/model"
)

func generateEd25519SeedForTest() (ed25519.PublicKey, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", err
	}
	return pub, hex.EncodeToString(priv.Seed()), nil
}

func mustEngine(t *testing.T, edSeed string, chainBNumericID int64) *Engine {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := hex.EncodeToString(crypto.FromECDSA(priv))
	e, err := NewEngine(hexKey, edSeed, chainBNumericID)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func u256BE(v int64) []byte {
	var buf [32]byte
	n := v
	for i := 31; i >= 0 && n > 0; i-- {
		buf[i] = byte(n & 0xff)
		n >>= 8
	}
	return buf[:]
}

// TestOuterDigestBScenario1 follows Scenario 1 from §8: a single
// A-originated fungible transfer, verifying the outer digest's exact
// byte construction.
func TestOuterDigestBScenario1(t *testing.T) {
	e := mustEngine(t, "", 88811)

	event := model.TransferEvent{
		TransferID:  "5FooBarBaz",
		Source:      model.ChainA,
		Destination: model.ChainB,
		Token:       "WAVES",
		Amount:      model.NewAmount(100_000_000),
		Recipient:   "0x0000000000000000000000000000000000000001",
		Kind:        model.FungibleExternal,
	}
	tokenRef := common.HexToAddress("0x4025A8Ee89DAead315de690f0C250caB5309a115")

	outer, err := e.OuterDigestB(event, tokenRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transferIDHash := crypto.Keccak256([]byte("5FooBarBaz"))
	recipient := common.HexToAddress(event.Recipient)

	packed := append([]byte{}, transferIDHash...)
	packed = append(packed, tokenRef.Bytes()...)
	packed = append(packed, u256BE(100_000_000)...)
	packed = append(packed, recipient.Bytes()...)
	packed = append(packed, byte(model.FungibleExternal))
	packed = append(packed, u256BE(0)...)  // token_id defaults to 0
	packed = append(packed, u256BE(88811)...) // destination chain id

	expected := crypto.Keccak256(packed)
	if !bytes.Equal(outer, expected) {
		t.Fatalf("outer digest mismatch:\n got: %x\nwant: %x", outer, expected)
	}
}

func TestSignForBRejectsZeroAmount(t *testing.T) {
	e := mustEngine(t, "", 1)
	event := model.TransferEvent{
		TransferID:  "tx",
		Source:      model.ChainA,
		Destination: model.ChainB,
		Amount:      model.NewAmount(0),
		Recipient:   "0x0000000000000000000000000000000000000001",
		Kind:        model.FungibleExternal,
	}
	if _, err := e.SignForB(event, common.Address{}, time.Now()); err != ErrZeroAmount {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestSignForBRejectsNonFungibleAmountNotOne(t *testing.T) {
	e := mustEngine(t, "", 1)
	event := model.TransferEvent{
		TransferID:  "tx",
		Source:      model.ChainA,
		Destination: model.ChainB,
		Amount:      model.NewAmount(2),
		Recipient:   "0x0000000000000000000000000000000000000001",
		Kind:        model.NonFungibleExternal,
	}
	if _, err := e.SignForB(event, common.Address{}, time.Now()); err != ErrNonFungibleAmount {
		t.Fatalf("expected ErrNonFungibleAmount, got %v", err)
	}
}

func TestSignForBDeterministic(t *testing.T) {
	e := mustEngine(t, "", 42)
	event := model.TransferEvent{
		TransferID:  "deterministic-tx",
		Source:      model.ChainA,
		Destination: model.ChainB,
		Amount:      model.NewAmount(500),
		Recipient:   "0x0000000000000000000000000000000000000002",
		Kind:        model.FungibleExternal,
	}
	now := time.Now()

	a1, err := e.SignForB(event, common.Address{1}, now)
	if err != nil {
		t.Fatalf("sign 1: %v", err)
	}
	a2, err := e.SignForB(event, common.Address{1}, now)
	if err != nil {
		t.Fatalf("sign 2: %v", err)
	}
	if !bytes.Equal(a1.Signature, a2.Signature) {
		t.Fatalf("expected RFC-6979 deterministic signature, got different signatures")
	}
}

func TestSignAndVerifyRoundTripB(t *testing.T) {
	e := mustEngine(t, "", 7)
	event := model.TransferEvent{
		TransferID:  "roundtrip",
		Source:      model.ChainA,
		Destination: model.ChainB,
		Amount:      model.NewAmount(10),
		Recipient:   "0x0000000000000000000000000000000000000003",
		Kind:        model.FungibleExternal,
	}
	att, err := e.SignForB(event, common.Address{9}, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := e.Verify(att, e.validatorIDB)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify under own validator id")
	}
}

func TestSignForADisabledWithoutSeed(t *testing.T) {
	e := mustEngine(t, "", 1)
	event := model.TransferEvent{
		TransferID:  "tx",
		Source:      model.ChainB,
		Destination: model.ChainA,
		Amount:      model.NewAmount(1),
		Recipient:   "some-base58-addr",
		Kind:        model.FungibleExternal,
	}
	if _, err := e.SignForA(event, "asset1", time.Now()); err != ErrDestinationDisabled {
		t.Fatalf("expected ErrDestinationDisabled, got %v", err)
	}
}

func TestSignForAAndVerifyRoundTrip(t *testing.T) {
	_, seed, err := generateEd25519SeedForTest()
	if err != nil {
		t.Fatalf("generate seed: %v", err)
	}
	e := mustEngine(t, seed, 88811)

	event := model.TransferEvent{
		TransferID:  "tx-a-dest",
		Source:      model.ChainB,
		Destination: model.ChainA,
		Amount:      model.NewAmount(250),
		Recipient:   "recipient-base58",
		Kind:        model.FungibleExternal,
	}

	a1, err := e.SignForA(event, "asset-ref", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	a2, err := e.SignForA(event, "asset-ref", time.Now())
	if err != nil {
		t.Fatalf("sign again: %v", err)
	}
	if !bytes.Equal(a1.Signature, a2.Signature) {
		t.Fatalf("expected deterministic ed25519 signature, got different signatures")
	}

	ok, err := e.Verify(a1, a1.ValidatorID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected ed25519 signature to verify")
	}
}
