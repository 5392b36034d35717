// Copyright 2025 Certen Protocol
package chainb

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/bridge-validator/internal/model"
)

// tokensLockedLog mirrors the TokensLocked event's non-indexed fields
// for ABI unpacking.
type tokensLockedLog struct {
	Amount           *big.Int
	WavesDestination string
	Nonce            *big.Int
	TokenType        uint8
	TokenID          *big.Int
}

// onChainTokenTypeToKind maps the bridge contract's tokenType enum to
// our TokenKind (§4.4 "mapping the on-chain tokenType enum to our
// TokenKind").
func onChainTokenTypeToKind(t uint8) (model.TokenKind, error) {
	switch t {
	case 0:
		return model.FungibleExternal, nil
	case 1:
		return model.FungibleWrapped, nil
	case 2:
		return model.NonFungibleExternal, nil
	case 3:
		return model.NonFungibleWrapped, nil
	case 4:
		return model.Native, nil
	default:
		return 0, fmt.Errorf("chainb: unrecognized on-chain tokenType %d", t)
	}
}

// Watcher polls chain B for TokensLocked events past finality,
// implementing the watcher.Watcher capability set (§9).
type Watcher struct {
	client *Client
}

// NewWatcher constructs a chain-B Watcher bound to client.
func NewWatcher(client *Client) *Watcher {
	return &Watcher{client: client}
}

// Chain implements watcher.Watcher.
func (w *Watcher) Chain() model.ChainId { return model.ChainB }

// Height implements watcher.Watcher.
func (w *Watcher) Height(ctx context.Context) (uint64, error) {
	return w.client.Height(ctx)
}

// FinalizedEvents implements watcher.Watcher: issues a range log-query
// for the TokensLocked topic and synthesizes a TransferEvent per log
// (§4.4).
func (w *Watcher) FinalizedEvents(ctx context.Context, fromBlock, toBlock uint64) ([]model.TransferEvent, error) {
	logs, err := w.client.FilterLogs(ctx, fromBlock, toBlock, [][]common.Hash{{tokensLockedTopic}})
	if err != nil {
		return nil, err
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	events := make([]model.TransferEvent, 0, len(logs))
	for _, l := range logs {
		e, err := w.parseLog(l)
		if err != nil {
			return nil, fmt.Errorf("chainb: parse log (tx=%s): %w", l.TxHash.Hex(), err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (w *Watcher) parseLog(l types.Log) (model.TransferEvent, error) {
	if len(l.Topics) != 4 {
		return model.TransferEvent{}, fmt.Errorf("expected 4 topics (signature + 3 indexed args), got %d", len(l.Topics))
	}
	lockID := l.Topics[1]
	token := common.HexToAddress(l.Topics[2].Hex())
	sender := common.HexToAddress(l.Topics[3].Hex())

	var decoded tokensLockedLog
	if err := bridgeABI.UnpackIntoInterface(&decoded, "TokensLocked", l.Data); err != nil {
		return model.TransferEvent{}, fmt.Errorf("unpack non-indexed fields: %w", err)
	}

	kind, err := onChainTokenTypeToKind(decoded.TokenType)
	if err != nil {
		return model.TransferEvent{}, err
	}

	var tokenID *uint64
	if decoded.TokenID != nil && decoded.TokenID.Sign() != 0 {
		v := decoded.TokenID.Uint64()
		tokenID = &v
	}

	return model.TransferEvent{
		TransferID:  lockID.Hex(),
		Source:      model.ChainB,
		Destination: model.ChainA,
		Token:       token.Hex(),
		Amount:      model.AmountFromBigInt(decoded.Amount),
		Sender:      sender.Hex(),
		Recipient:   decoded.WavesDestination,
		Kind:        kind,
		TokenID:     tokenID,
		SrcBlock:    l.BlockNumber,
		SrcTx:       l.TxHash.Hex(),
		ObservedAt:  time.Now().UnixMilli(),
	}, nil
}
