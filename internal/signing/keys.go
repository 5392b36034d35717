// Copyright 2025 Certen Protocol
package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

type ecdsaKey struct {
	priv *ecdsa.PrivateKey
}

func loadSecp256k1(hexKey string) (*ecdsaKey, error) {
	if hexKey == "" {
		return nil, ErrDestinationDisabled
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 private key: %w", err)
	}
	return &ecdsaKey{priv: priv}, nil
}

func loadEd25519(hexSeed string) (ed25519.PrivateKey, error) {
	seed, err := decodeHex(strings.TrimPrefix(hexSeed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 seed: %w", err)
	}
	switch len(seed) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(seed), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(seed), nil
	default:
		return nil, fmt.Errorf("ed25519 seed must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(seed))
	}
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func base58PublicKey(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// GenerateSecp256k1Key generates a fresh secp256k1 key and returns it
// hex-encoded, without touching the filesystem.
func GenerateSecp256k1Key() (string, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return hex.EncodeToString(crypto.FromECDSA(priv)), nil
}

// GenerateEd25519Key generates a fresh ed25519 seed and returns it
// hex-encoded, without touching the filesystem.
func GenerateEd25519Key() (string, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ed25519 key: %w", err)
	}
	return hex.EncodeToString(priv.Seed()), nil
}

// GenerateSecp256k1KeyFile generates a fresh secp256k1 key and persists
// it hex-encoded at path with owner-only permissions, mirroring the
// teacher's loadOrGenerateEd25519Key pattern for the B-side key.
func GenerateSecp256k1KeyFile(path string) (string, error) {
	keyHex, err := GenerateSecp256k1Key()
	if err != nil {
		return "", err
	}
	if err := writeKeyFile(path, keyHex); err != nil {
		return "", err
	}
	return keyHex, nil
}

// GenerateEd25519KeyFile generates a fresh ed25519 seed and persists it
// hex-encoded at path with owner-only permissions.
func GenerateEd25519KeyFile(path string) (string, error) {
	keyHex, err := GenerateEd25519Key()
	if err != nil {
		return "", err
	}
	if err := writeKeyFile(path, keyHex); err != nil {
		return "", err
	}
	return keyHex, nil
}

func writeKeyFile(path, hexKey string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(hexKey), 0600); err != nil {
		return fmt.Errorf("save key to %s: %w", path, err)
	}
	return nil
}

// LoadOrGenerateKeyFile reads a hex-encoded key from path, generating
// and persisting a fresh one via generate if the file does not exist
// yet — the same recovery shape as the teacher's
// loadOrGenerateEd25519Key.
func LoadOrGenerateKeyFile(path string, generate func(path string) (string, error)) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return generate(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key from %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
