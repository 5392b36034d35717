// Copyright 2025 Certen Protocol
//
// Package chainb is the EVM-compatible destination/source chain
// client: it watches TokensLocked events, exposes the bridge's
// read-only view functions, and submits release transactions (§4.4,
// §4.5, §4.7, §6).
package chainb

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an ethclient.Client bound to the bridge contract.
type Client struct {
	eth           *ethclient.Client
	chainID       *big.Int
	bridgeAddress common.Address
}

// NewClient dials rpcURL and binds to the bridge contract at
// bridgeAddress on the given chain id (§6 chain_b_rpc_url,
// chain_b_chain_id, chain_b_bridge_address).
func NewClient(rpcURL string, chainID int64, bridgeAddress common.Address) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainb: connect to %s: %w", rpcURL, err)
	}
	return &Client{
		eth:           eth,
		chainID:       big.NewInt(chainID),
		bridgeAddress: bridgeAddress,
	}, nil
}

// Height returns the current chain head (§4.3/4.4 get_height).
func (c *Client) Height(ctx context.Context) (uint64, error) {
	h, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chainb: get block number: %w", err)
	}
	return h, nil
}

// FilterLogs issues a range log-query for the bridge address, used
// directly by the Watcher.
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.bridgeAddress},
		Topics:    topics,
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chainb: filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

// CreateTransactor builds a signed transactor from a secp256k1 hex key
// for submitting release transactions (§4.7).
func (c *Client) CreateTransactor(privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("chainb: parse private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("chainb: create transactor: %w", err)
	}
	return auth, nil
}

// EstimateGas estimates gas for a pending call, used by the Relay
// Engine before applying the 20% headroom (§4.7).
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("chainb: estimate gas: %w", err)
	}
	return gas, nil
}

// SuggestGasPrice returns the network's suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chainb: suggest gas price: %w", err)
	}
	return price, nil
}

// PendingNonceAt returns the transactor's next nonce.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("chainb: get nonce: %w", err)
	}
	return nonce, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chainb: send transaction: %w", err)
	}
	return nil
}

// TransactionReceipt fetches the receipt for txHash once, without
// waiting; an error is returned while the transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("chainb: get receipt: %w", err)
	}
	return receipt, nil
}

// BridgeAddress returns the bridge contract address this client is
// bound to.
func (c *Client) BridgeAddress() common.Address {
	return c.bridgeAddress
}
