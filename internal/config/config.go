// Copyright 2025 Certen Protocol
//
// Package config loads the validator's configuration from environment
// variables, optionally layered under a YAML file, and validates it
// before any task is launched.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration recognized by the validator node (§6).
type Config struct {
	// Chain A
	ChainANodeURL        string
	ChainANetworkTag     string
	ChainAConfirmations  int
	ChainABridgeAddress  string

	// Chain B
	ChainBRPCURL         string
	ChainBChainID        int64
	ChainBConfirmations  int
	ChainBBridgeAddress  string

	// Keys
	ValidatorSecp256k1Key string
	ValidatorEd25519Seed  string

	// ChainAValidatorAddress is this node's own chain-A wallet address,
	// used as the releaseTokens invoke's sender field (§4.7 step 4).
	// WAVES-style address derivation from an ed25519 key is operator
	// tooling, not something the validator needs to reimplement, so the
	// operator supplies the address directly alongside the seed.
	ChainAValidatorAddress string

	// ChainAInvokeFee is the wavelet fee attached to this node's own
	// releaseTokens invoke (§4.7 step 4). Not part of the byte-exact
	// attestation digest, only the submission itself, so a sane
	// network-standard default is safe.
	ChainAInvokeFee int64

	// Gossip overlay
	OverlayListenPort    int
	OverlayBootstrapPeers []string

	DataDir string

	StatusHTTPPort    int
	StatusHTTPEnabled bool

	LogLevel string

	// Runtime overrides
	StartBlockA int64
	StartBlockB int64

	ValidatorID string
}

// fileOverlay is the shape of the optional data_dir/config.yaml file.
// Its fields mirror Config's environment-variable names in snake_case,
// and are layered underneath (not over) whatever the environment sets.
type fileOverlay struct {
	ChainANodeURL         string   `yaml:"chain_a_node_url"`
	ChainANetworkTag      string   `yaml:"chain_a_network_tag"`
	ChainAConfirmations   int      `yaml:"chain_a_confirmations"`
	ChainABridgeAddress   string   `yaml:"chain_a_bridge_address"`
	ChainBRPCURL          string   `yaml:"chain_b_rpc_url"`
	ChainBChainID         int64    `yaml:"chain_b_chain_id"`
	ChainBConfirmations   int      `yaml:"chain_b_confirmations"`
	ChainBBridgeAddress   string   `yaml:"chain_b_bridge_address"`
	ValidatorSecp256k1Key  string  `yaml:"validator_secp256k1_key"`
	ValidatorEd25519Seed   string  `yaml:"validator_ed25519_seed"`
	ChainAValidatorAddress string  `yaml:"chain_a_validator_address"`
	ChainAInvokeFee        int64   `yaml:"chain_a_invoke_fee"`
	OverlayListenPort     int      `yaml:"overlay_listen_port"`
	OverlayBootstrapPeers []string `yaml:"overlay_bootstrap_peers"`
	DataDir               string   `yaml:"data_dir"`
	StatusHTTPPort        int      `yaml:"status_http_port"`
	StatusHTTPEnabled     *bool    `yaml:"status_http_enabled"`
	LogLevel              string   `yaml:"log_level"`
	ValidatorID           string   `yaml:"validator_id"`
}

// Load reads configuration from environment variables, using
// data_dir/config.yaml (if present) as the default layer underneath
// them. Call Validate separately; Load performs no validation itself.
func Load() (*Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")

	overlay := loadFileOverlay(dataDir)

	cfg := &Config{
		ChainANodeURL:       getEnv("CHAIN_A_NODE_URL", overlay.ChainANodeURL),
		ChainANetworkTag:    getEnv("CHAIN_A_NETWORK_TAG", firstNonEmpty(overlay.ChainANetworkTag, "W")),
		ChainAConfirmations: getEnvInt("CHAIN_A_CONFIRMATIONS", firstNonZeroInt(overlay.ChainAConfirmations, 10)),
		ChainABridgeAddress: getEnv("CHAIN_A_BRIDGE_ADDRESS", overlay.ChainABridgeAddress),

		ChainBRPCURL:        getEnv("CHAIN_B_RPC_URL", overlay.ChainBRPCURL),
		ChainBChainID:       getEnvInt64("CHAIN_B_CHAIN_ID", overlay.ChainBChainID),
		ChainBConfirmations: getEnvInt("CHAIN_B_CONFIRMATIONS", firstNonZeroInt(overlay.ChainBConfirmations, 32)),
		ChainBBridgeAddress: getEnv("CHAIN_B_BRIDGE_ADDRESS", overlay.ChainBBridgeAddress),

		ValidatorSecp256k1Key:  getEnv("VALIDATOR_SECP256K1_KEY", overlay.ValidatorSecp256k1Key),
		ValidatorEd25519Seed:   getEnv("VALIDATOR_ED25519_SEED", overlay.ValidatorEd25519Seed),
		ChainAValidatorAddress: getEnv("CHAIN_A_VALIDATOR_ADDRESS", overlay.ChainAValidatorAddress),
		ChainAInvokeFee:        getEnvInt64("CHAIN_A_INVOKE_FEE", firstNonZeroInt64(overlay.ChainAInvokeFee, 500000)),

		OverlayListenPort:     getEnvInt("OVERLAY_LISTEN_PORT", firstNonZeroInt(overlay.OverlayListenPort, 26656)),
		OverlayBootstrapPeers: getEnvStringSlice("OVERLAY_BOOTSTRAP_PEERS", overlay.OverlayBootstrapPeers),

		DataDir: dataDir,

		StatusHTTPPort:    getEnvInt("STATUS_HTTP_PORT", firstNonZeroInt(overlay.StatusHTTPPort, 8090)),
		StatusHTTPEnabled: getEnvBool("STATUS_HTTP_ENABLED", overlayBoolOrDefault(overlay.StatusHTTPEnabled, true)),

		LogLevel: getEnv("LOG_LEVEL", firstNonEmpty(overlay.LogLevel, "info")),

		StartBlockA: getEnvInt64("START_BLOCK_A", 0),
		StartBlockB: getEnvInt64("START_BLOCK_B", 0),

		ValidatorID: getEnv("VALIDATOR_ID", overlay.ValidatorID),
	}

	return cfg, nil
}

// loadFileOverlay reads <dataDir>/config.yaml if it exists. A missing
// file is not an error — the environment alone is a valid configuration
// source (§10.3).
func loadFileOverlay(dataDir string) fileOverlay {
	var overlay fileOverlay
	path := dataDir + "/config.yaml"
	data, err := os.ReadFile(path)
	if err != nil {
		return overlay
	}
	_ = yaml.Unmarshal(data, &overlay)
	return overlay
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func firstNonZeroInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonZeroInt64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func overlayBoolOrDefault(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
