// Copyright 2025 Certen Protocol
package chaina

import (
	"context"
	"fmt"
	"regexp"

	"github.com/certen/bridge-validator/internal/model"
)

const (
	functionLockTokens = "lockTokens"
	functionLockNFT    = "lockNFT"
)

// transferIDRowPattern matches the contract's data-row convention for
// transfer ids: "transfer_<nonce>_id" (§4.3).
var transferIDRowPattern = regexp.MustCompile(`^transfer_.+_id$`)

// Watcher polls chain A block-by-block for bridge lock invokes,
// implementing the watcher.Watcher capability set (§9).
type Watcher struct {
	client *Client
}

// NewWatcher constructs a chain-A Watcher bound to client.
func NewWatcher(client *Client) *Watcher {
	return &Watcher{client: client}
}

// Chain implements watcher.Watcher.
func (w *Watcher) Chain() model.ChainId { return model.ChainA }

// Height implements watcher.Watcher.
func (w *Watcher) Height(ctx context.Context) (uint64, error) {
	return w.client.Height(ctx)
}

// FinalizedEvents implements watcher.Watcher: fetches each block in
// [fromBlock, toBlock], inspects its invoke-dApp transactions targeting
// the bridge, and synthesizes a TransferEvent per lockTokens/lockNFT
// call (§4.3).
func (w *Watcher) FinalizedEvents(ctx context.Context, fromBlock, toBlock uint64) ([]model.TransferEvent, error) {
	var events []model.TransferEvent

	// Cached per range: the bridge's transfer_*_id data rows, used to
	// resolve the canonical transfer_id for each lock call.
	var dataRows []DataEntry
	var dataRowsLoaded bool

	for h := fromBlock; h <= toBlock; h++ {
		block, err := w.client.BlockAt(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("chaina: fetch block %d: %w", h, err)
		}
		for _, tx := range block.Transactions {
			if !tx.IsInvokeOn(w.client.BridgeAddress()) {
				continue
			}
			if tx.Call.Function != functionLockTokens && tx.Call.Function != functionLockNFT {
				continue
			}
			if !dataRowsLoaded {
				rows, err := w.client.AddressData(ctx, w.client.BridgeAddress())
				if err != nil {
					return nil, fmt.Errorf("chaina: scan bridge data rows: %w", err)
				}
				dataRows = rows
				dataRowsLoaded = true
			}
			event, err := w.parseLockInvoke(tx, block.Height, dataRows)
			if err != nil {
				return nil, fmt.Errorf("chaina: parse invoke (tx=%s): %w", tx.ID, err)
			}
			events = append(events, event)
		}
	}
	return events, nil
}

func (w *Watcher) parseLockInvoke(tx Transaction, blockHeight uint64, dataRows []DataEntry) (model.TransferEvent, error) {
	if len(tx.Call.Args) < 2 {
		return model.TransferEvent{}, fmt.Errorf("expected 2 call args (recipient, dest_chain), got %d", len(tx.Call.Args))
	}
	recipient := tx.Call.Args[0].StringValue()
	if recipient == "" {
		return model.TransferEvent{}, fmt.Errorf("call arg 0 (recipient) is not a string")
	}
	if _, ok := tx.Call.Args[1].IntValue(); !ok {
		return model.TransferEvent{}, fmt.Errorf("call arg 1 (dest_chain) is not numeric")
	}
	if len(tx.Payment) != 1 {
		return model.TransferEvent{}, fmt.Errorf("expected exactly 1 payment entry, got %d", len(tx.Payment))
	}
	payment := tx.Payment[0]

	assetRef := "WAVES"
	if payment.AssetID != nil && *payment.AssetID != "" {
		assetRef = *payment.AssetID
	}

	kind := model.FungibleExternal
	var tokenID *uint64
	if tx.Call.Function == functionLockNFT {
		kind = model.NonFungibleExternal
	}

	return model.TransferEvent{
		TransferID:  resolveTransferID(tx.ID, dataRows),
		Source:      model.ChainA,
		Destination: model.ChainB,
		Token:       assetRef,
		Amount:      model.NewAmount(payment.Amount),
		Sender:      tx.Sender,
		Recipient:   recipient,
		Kind:        kind,
		TokenID:     tokenID,
		SrcBlock:    blockHeight,
		SrcTx:       tx.ID,
		ObservedAt:  tx.Timestamp,
	}, nil
}

// resolveTransferID follows §4.3's "transfer_id is either the
// transaction id or a data-row key of the form transfer_*_id written by
// the contract": if a transfer_*_id row's value names this tx, the row
// key is the canonical transfer_id; otherwise the tx id itself is used.
func resolveTransferID(txID string, dataRows []DataEntry) string {
	for _, row := range dataRows {
		if !transferIDRowPattern.MatchString(row.Key) {
			continue
		}
		if row.StringValue() == txID {
			return row.Key
		}
	}
	return txID
}
