// Copyright 2025 Certen Protocol
package config

import (
	"errors"
	"fmt"
)

var (
	ErrMissingChainAURL     = errors.New("config: chain_a_node_url is required")
	ErrMissingChainABridge  = errors.New("config: chain_a_bridge_address is required")
	ErrMissingChainBURL     = errors.New("config: chain_b_rpc_url is required")
	ErrMissingChainBBridge  = errors.New("config: chain_b_bridge_address is required")
	ErrMissingSecp256k1Key  = errors.New("config: validator_secp256k1_key is required")
	ErrNoDestinationKey     = errors.New("config: at least one of secp256k1/ed25519 destination keys must be configured")
	ErrMissingDataDir       = errors.New("config: data_dir is required")
	ErrInvalidNetworkTag    = errors.New("config: chain_a_network_tag must be exactly one character")
	ErrInvalidChainBChainID = errors.New("config: chain_b_chain_id must be positive")
	ErrMissingChainAAddress = errors.New("config: chain_a_validator_address is required when validator_ed25519_seed is set")
)

// Validate enforces the required-field and cross-field invariants
// described in §6/§7 ("Local configuration invalid ... startup fails
// before any task is launched"). Load and Validate are kept distinct so
// check-config can report every error in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.ChainANodeURL == "" {
		errs = append(errs, ErrMissingChainAURL)
	}
	if c.ChainABridgeAddress == "" {
		errs = append(errs, ErrMissingChainABridge)
	}
	if len(c.ChainANetworkTag) != 1 {
		errs = append(errs, ErrInvalidNetworkTag)
	}
	if c.ChainBRPCURL == "" {
		errs = append(errs, ErrMissingChainBURL)
	}
	if c.ChainBBridgeAddress == "" {
		errs = append(errs, ErrMissingChainBBridge)
	}
	if c.ChainBChainID <= 0 {
		errs = append(errs, ErrInvalidChainBChainID)
	}
	if c.ValidatorSecp256k1Key == "" {
		errs = append(errs, ErrMissingSecp256k1Key)
	}
	if c.ValidatorSecp256k1Key == "" && c.ValidatorEd25519Seed == "" {
		errs = append(errs, ErrNoDestinationKey)
	}
	if c.ValidatorEd25519Seed != "" && c.ChainAValidatorAddress == "" {
		errs = append(errs, ErrMissingChainAAddress)
	}
	if c.DataDir == "" {
		errs = append(errs, ErrMissingDataDir)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %d validation error(s): %w", len(errs), errors.Join(errs...))
}

// HasEd25519 reports whether A-destination relay is enabled (§9: the
// signing engine disables that destination cleanly when the seed is
// absent).
func (c *Config) HasEd25519() bool {
	return c.ValidatorEd25519Seed != ""
}
