// Copyright 2025 Certen Protocol
//
// Package relay implements the Relay Engine (§4.7): once the
// Coordinator observes that a transfer record has gathered at least
// threshold attestations, the engine re-checks the on-chain
// processed-set, builds and submits the release transaction on the
// destination chain, and classifies any failure as transient (leave in
// Relaying for the next sweep) or terminal (move to Failed).
package relay

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/bridge-validator/internal/chaina"
	"github.com/certen/bridge-validator/internal/model"
	"github.com/certen/bridge-validator/internal/signing"
)

// BChainReleaser is the capability the engine needs from the chain-B
// client to submit and confirm a release (§4.7 step 3, §6).
type BChainReleaser interface {
	ProcessedTransfers(ctx context.Context, transferID [32]byte) (bool, error)
	ReleaseTokensCall(ctx context.Context, auth *bind.TransactOpts, transferID [32]byte, tokenRef common.Address, amount *big.Int, recipient common.Address, kind uint8, tokenID *big.Int, signatures [][]byte) (*types.Transaction, error)
	ReleaseNFTCall(ctx context.Context, auth *bind.TransactOpts, transferID [32]byte, tokenRef, recipient common.Address, tokenID *big.Int, signatures [][]byte) (*types.Transaction, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// AChainReleaser is the capability the engine needs from the chain-A
// client to submit a release invoke (§4.7 step 4, §6).
type AChainReleaser interface {
	IsProcessed(ctx context.Context, transferID string) (bool, error)
	SubmitRelease(ctx context.Context, call chaina.ReleaseCall, senderAddress string, senderPublicKey []byte, fee int64, sign chaina.Signer) (string, error)
}

// Resolver is the capability the engine needs from the Asset Resolver
// to re-resolve the destination token reference (§4.7 step 2).
type Resolver interface {
	ResolveForDestination(ctx context.Context, event model.TransferEvent) (tokenRef common.Address, assetRef string, err error)
}

// Outcome classifies the result of a Submit call.
type Outcome int

const (
	// OutcomeCompleted means the release transaction was submitted (and,
	// for chain B, confirmed) successfully.
	OutcomeCompleted Outcome = iota
	// OutcomeAlreadyProcessed means the on-chain processed-set already
	// carried the transfer; no submission was made.
	OutcomeAlreadyProcessed
	// OutcomeInFlight means a submission for this transfer is already
	// outstanding; the engine refused to start a second one (§4.7
	// "Idempotence").
	OutcomeInFlight
	// OutcomeTransient means submission failed with a retryable error;
	// the record should remain in Relaying for the next sweep.
	OutcomeTransient
	// OutcomeFailed means submission failed with a non-retryable error;
	// the record should move to Failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeInFlight:
		return "in_flight"
	case OutcomeTransient:
		return "transient"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single Submit call.
type Result struct {
	Outcome      Outcome
	TxID         string
	FailureClass string
	Err          error
}

// Config carries the relay node's own submission identity for both
// destinations (§6 validator_secp256k1_key, validator_ed25519_seed).
type Config struct {
	// AuthB signs chain-B release transactions.
	AuthB *bind.TransactOpts
	// ReceiptPollInterval/ReceiptTimeout bound the chain-B inclusion
	// wait (§5 "relay confirmation capped... receipt wait on B").
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration

	// ChainASenderAddress/ChainASenderPublicKey/ChainAFee/ChainASign
	// are the relay node's chain-A invoke identity, used for every
	// A-destination release (§6, §4.7 step 4).
	ChainASenderAddress    string
	ChainASenderPublicKey  []byte
	ChainAFee              int64
	ChainASign             chaina.Signer
	// ChainAConfirmTimeout bounds how long SubmitRelease's caller
	// should wait for confirmation (§5 "60 s on A") — enforced by the
	// context passed to Submit, not by this package directly.
	ChainAConfirmTimeout time.Duration
}

// Engine is the Relay Engine. It is safe for concurrent use; in-flight
// tracking serializes submissions per transfer id.
type Engine struct {
	chainB   BChainReleaser
	chainA   AChainReleaser
	resolver Resolver
	cfg      Config
	logger   *log.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs a Relay Engine over the two chain release seams and
// the shared Asset Resolver.
func New(chainB BChainReleaser, chainA AChainReleaser, res Resolver, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Relay] ", log.LstdFlags)
	}
	if cfg.ReceiptPollInterval == 0 {
		cfg.ReceiptPollInterval = 3 * time.Second
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 60 * time.Second
	}
	return &Engine{
		chainB:   chainB,
		chainA:   chainA,
		resolver: res,
		cfg:      cfg,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Submit drives the release of record's event, per §4.7. Callers
// (the Coordinator's sweep) are expected to call this only for records
// whose attestation count has already met the on-chain threshold.
func (e *Engine) Submit(ctx context.Context, record *model.TransferRecord) Result {
	event := record.Event
	key := event.Key()

	if !e.markInFlight(key) {
		return Result{Outcome: OutcomeInFlight}
	}
	defer e.clearInFlight(key)

	processed, err := e.isProcessed(ctx, event)
	if err != nil {
		return e.classify(err)
	}
	if processed {
		return Result{Outcome: OutcomeAlreadyProcessed}
	}

	tokenRef, assetRef, err := e.resolver.ResolveForDestination(ctx, event)
	if err != nil {
		// A destination no longer willing to accept this asset is a
		// registration problem, not a transient fault — terminal.
		return Result{Outcome: OutcomeFailed, FailureClass: "resolution_failed", Err: err}
	}

	switch event.Destination {
	case model.ChainB:
		return e.submitToB(ctx, record, tokenRef)
	case model.ChainA:
		return e.submitToA(ctx, record, assetRef)
	default:
		return Result{Outcome: OutcomeFailed, FailureClass: "unsupported_destination", Err: fmt.Errorf("relay: unsupported destination %s", event.Destination)}
	}
}

func (e *Engine) isProcessed(ctx context.Context, event model.TransferEvent) (bool, error) {
	switch event.Destination {
	case model.ChainB:
		idBytes, err := signing.TransferIDBytes32(event.Source, event.TransferID)
		if err != nil {
			return false, err
		}
		return e.chainB.ProcessedTransfers(ctx, idBytes)
	case model.ChainA:
		return e.chainA.IsProcessed(ctx, event.TransferID)
	default:
		return false, fmt.Errorf("relay: unsupported destination %s", event.Destination)
	}
}

func (e *Engine) markInFlight(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[key]; ok {
		return false
	}
	e.inFlight[key] = struct{}{}
	return true
}

func (e *Engine) clearInFlight(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, key)
}

func (e *Engine) submitToB(ctx context.Context, record *model.TransferRecord, tokenRef common.Address) Result {
	event := record.Event

	idBytes, err := signing.TransferIDBytes32(event.Source, event.TransferID)
	if err != nil {
		return Result{Outcome: OutcomeFailed, FailureClass: "bad_transfer_id", Err: err}
	}

	signatures, err := sortedBSignatures(record)
	if err != nil {
		return Result{Outcome: OutcomeFailed, FailureClass: "bad_signatures", Err: err}
	}

	recipient, err := parseAddress(event.Recipient)
	if err != nil {
		return Result{Outcome: OutcomeFailed, FailureClass: "bad_recipient", Err: err}
	}

	amount := event.Amount.Big()
	tokenID := new(big.Int).SetUint64(event.TokenIDOrZero())

	var tx *types.Transaction
	if event.Kind.IsFungible() {
		tx, err = e.chainB.ReleaseTokensCall(ctx, e.cfg.AuthB, idBytes, tokenRef, amount, recipient, byte(event.Kind), tokenID, signatures)
	} else {
		tx, err = e.chainB.ReleaseNFTCall(ctx, e.cfg.AuthB, idBytes, tokenRef, recipient, tokenID, signatures)
	}
	if err != nil {
		return e.classify(err)
	}

	receipt, err := e.awaitReceipt(ctx, tx.Hash())
	if err != nil {
		return e.classify(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Result{Outcome: OutcomeFailed, FailureClass: "reverted", Err: fmt.Errorf("relay: release transaction %s reverted", tx.Hash())}
	}
	return Result{Outcome: OutcomeCompleted, TxID: tx.Hash().Hex()}
}

func (e *Engine) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.chainB.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("relay: timed out waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) submitToA(ctx context.Context, record *model.TransferRecord, assetRef string) Result {
	event := record.Event

	signatures, publicKeys, err := pairedASignatures(record)
	if err != nil {
		return Result{Outcome: OutcomeFailed, FailureClass: "bad_signatures", Err: err}
	}

	call := chaina.ReleaseCall{
		TransferID: event.TransferID,
		Recipient:  event.Recipient,
		AssetID:    assetRef,
		Amount:     event.Amount.Big().Int64(),
		Signatures: signatures,
		PublicKeys: publicKeys,
	}

	txID, err := e.chainA.SubmitRelease(ctx, call, e.cfg.ChainASenderAddress, e.cfg.ChainASenderPublicKey, e.cfg.ChainAFee, e.cfg.ChainASign)
	if err != nil {
		return e.classify(err)
	}
	return Result{Outcome: OutcomeCompleted, TxID: txID}
}

// sortedBSignatures returns the record's chain-B attestation signatures
// sorted ascending by the 20-byte signer address, with duplicates
// dropped by address (§4.7 step 3).
func sortedBSignatures(record *model.TransferRecord) ([][]byte, error) {
	type entry struct {
		addr common.Address
		sig  []byte
	}
	entries := make([]entry, 0, len(record.Attestations))
	seen := make(map[common.Address]bool)
	for _, att := range record.Attestations {
		addr, err := parseAddress(att.ValidatorID)
		if err != nil {
			return nil, fmt.Errorf("relay: attestation validator id %q is not a 20-byte address: %w", att.ValidatorID, err)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		entries = append(entries, entry{addr: addr, sig: att.Signature})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytesLess(entries[i].addr.Bytes(), entries[j].addr.Bytes())
	})
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.sig
	}
	return out, nil
}

// pairedASignatures returns the record's chain-A attestation signatures
// and public keys as equal-length, positionally paired lists, iterated
// in a deterministic (validator id ascending) order (§4.7 step 4).
func pairedASignatures(record *model.TransferRecord) ([][]byte, [][]byte, error) {
	validatorIDs := make([]string, 0, len(record.Attestations))
	for id := range record.Attestations {
		validatorIDs = append(validatorIDs, id)
	}
	sort.Strings(validatorIDs)

	signatures := make([][]byte, 0, len(validatorIDs))
	publicKeys := make([][]byte, 0, len(validatorIDs))
	for _, id := range validatorIDs {
		att := record.Attestations[id]
		if len(att.PublicKey) == 0 {
			return nil, nil, fmt.Errorf("relay: attestation from %s has no public key", id)
		}
		signatures = append(signatures, att.Signature)
		publicKeys = append(publicKeys, att.PublicKey)
	}
	return signatures, publicKeys, nil
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("relay: %q is not a 20-byte hex address", s)
	}
	return common.HexToAddress(s), nil
}
