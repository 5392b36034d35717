// Copyright 2025 Certen Protocol
package chainb

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// call performs a read-only eth_call against the bridge contract and
// unpacks a single return value into out.
func (c *Client) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	data, err := bridgeABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("chainb: pack %s: %w", method, err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.bridgeAddress,
		Data: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("chainb: call %s: %w", method, err)
	}
	vals, err := bridgeABI.Unpack(method, result)
	if err != nil {
		return fmt.Errorf("chainb: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return fmt.Errorf("chainb: %s returned %d values, want 1", method, len(vals))
	}
	return assignUnpacked(out, vals[0])
}

func assignUnpacked(out interface{}, val interface{}) error {
	switch dst := out.(type) {
	case *common.Address:
		v, ok := val.(common.Address)
		if !ok {
			return fmt.Errorf("chainb: expected address, got %T", val)
		}
		*dst = v
	case *bool:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("chainb: expected bool, got %T", val)
		}
		*dst = v
	case **big.Int:
		v, ok := val.(*big.Int)
		if !ok {
			return fmt.Errorf("chainb: expected *big.Int, got %T", val)
		}
		*dst = v
	default:
		return fmt.Errorf("chainb: unsupported output type %T", out)
	}
	return nil
}

// WavesToUnit0Token satisfies resolver.ChainBTokenLookup (§4.5, §6).
func (c *Client) WavesToUnit0Token(ctx context.Context, assetID string) (common.Address, error) {
	var addr common.Address
	if err := c.call(ctx, "wavesToUnit0Token", &addr, assetID); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// ProcessedTransfers reports whether transferID has already been
// relayed on chain B (§4.7 step 1, Scenario 6).
func (c *Client) ProcessedTransfers(ctx context.Context, transferID [32]byte) (bool, error) {
	var processed bool
	if err := c.call(ctx, "processedTransfers", &processed, transferID); err != nil {
		return false, err
	}
	return processed, nil
}

// ValidatorThreshold returns the destination bridge's current quorum
// threshold (§9 "Quorum arithmetic" — never trust a local constant).
func (c *Client) ValidatorThreshold(ctx context.Context) (int, error) {
	var n *big.Int
	if err := c.call(ctx, "validatorThreshold", &n); err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// ActiveValidatorCount returns the number of currently active
// validators.
func (c *Client) ActiveValidatorCount(ctx context.Context) (int, error) {
	var n *big.Int
	if err := c.call(ctx, "activeValidatorCount", &n); err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// IsValidator reports whether addr is a member of the active set.
func (c *Client) IsValidator(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	if err := c.call(ctx, "isValidator", &ok, addr); err != nil {
		return false, err
	}
	return ok, nil
}
