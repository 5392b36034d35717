// Copyright 2025 Certen Protocol
package chainb

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ethereum "github.com/ethereum/go-ethereum"
)

// gasHeadroomNumerator/Denominator apply the 20% headroom over the
// estimate required by §4.7 step 3.
const (
	gasHeadroomNumerator   = 120
	gasHeadroomDenominator = 100
)

// ReleaseTokensCall submits releaseTokens(transferId, tokenRef, amount,
// recipient, kind, tokenId, signatures[]) per §4.7/§6.
func (c *Client) ReleaseTokensCall(ctx context.Context, auth *bind.TransactOpts, transferID [32]byte, tokenRef common.Address, amount *big.Int, recipient common.Address, kind uint8, tokenID *big.Int, signatures [][]byte) (*types.Transaction, error) {
	data, err := bridgeABI.Pack("releaseTokens", transferID, tokenRef, amount, recipient, kind, tokenID, signatures)
	if err != nil {
		return nil, fmt.Errorf("chainb: pack releaseTokens: %w", err)
	}
	return c.sendWithGasHeadroom(ctx, auth, data)
}

// ReleaseNFTCall submits releaseNFT(transferId, tokenRef, recipient,
// tokenId, signatures[]) per §4.7/§6.
func (c *Client) ReleaseNFTCall(ctx context.Context, auth *bind.TransactOpts, transferID [32]byte, tokenRef, recipient common.Address, tokenID *big.Int, signatures [][]byte) (*types.Transaction, error) {
	data, err := bridgeABI.Pack("releaseNFT", transferID, tokenRef, recipient, tokenID, signatures)
	if err != nil {
		return nil, fmt.Errorf("chainb: pack releaseNFT: %w", err)
	}
	return c.sendWithGasHeadroom(ctx, auth, data)
}

func (c *Client) sendWithGasHeadroom(ctx context.Context, auth *bind.TransactOpts, data []byte) (*types.Transaction, error) {
	nonce, err := c.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	estimate, err := c.EstimateGas(ctx, ethereum.CallMsg{
		From: auth.From,
		To:   &c.bridgeAddress,
		Data: data,
	})
	if err != nil {
		return nil, err
	}
	gasLimit := estimate * gasHeadroomNumerator / gasHeadroomDenominator

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.bridgeAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return nil, fmt.Errorf("chainb: sign transaction: %w", err)
	}
	if err := c.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}
	return signedTx, nil
}
