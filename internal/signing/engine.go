// Copyright 2025 Certen Protocol
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/bridge-validator/internal/model"
)

// personalMessageBanner is the Ethereum "personal_sign" prefix applied
// before hashing the outer digest (§4.2 step 4).
const personalMessageBanner = "\x19Ethereum Signed Message:\n32"

// Resolution carries the destination-side reference produced by the
// Asset Resolver (§4.5) that the Signing Engine needs to build a
// digest. Exactly one of TokenRef/AssetRef is populated, depending on
// the event's destination.
type Resolution struct {
	// TokenRef is the 20-byte B-side token address (destination == B).
	TokenRef common.Address
	// AssetRef is the A-side asset identifier string (destination == A).
	AssetRef string
}

// Engine holds the validator's two key materials and produces
// byte-exact attestations. Each sign verb is independently guarded by
// the presence of its key material (§9): a nil key cleanly disables
// that destination rather than failing per-transfer.
//
// chainBNumericID is the destination chain's numeric id, folded into
// both digest schemes (§6): the B-side outer digest's trailing
// destination_chain_id field, and the A-side message's trailing
// decimal(other_chain_numeric_id) field.
type Engine struct {
	chainBNumericID int64

	validatorIDB string // 20-byte hex address recovered from the secp256k1 key
	secp         *ecdsaKey

	validatorIDA string // Base58 ed25519 public key, if configured
	ed           ed25519.PrivateKey
}

// NewEngine constructs a Signing Engine. secpHex is a required
// hex-encoded secp256k1 private key (no destination-B attestations are
// possible without it, matching §6 "validator_secp256k1_key (required)").
// edSeedHex is an optional 32-byte ed25519 seed hex string; pass "" to
// disable destination-A attestations. chainBNumericID is chain B's
// configured numeric chain id (§6 chain_b_chain_id).
func NewEngine(secpHex, edSeedHex string, chainBNumericID int64) (*Engine, error) {
	e := &Engine{chainBNumericID: chainBNumericID}

	key, err := loadSecp256k1(secpHex)
	if err != nil {
		return nil, fmt.Errorf("signing: load secp256k1 key: %w", err)
	}
	e.secp = key
	e.validatorIDB = crypto.PubkeyToAddress(key.priv.PublicKey).Hex()

	if edSeedHex != "" {
		priv, err := loadEd25519(edSeedHex)
		if err != nil {
			return nil, fmt.Errorf("signing: load ed25519 seed: %w", err)
		}
		e.ed = priv
		e.validatorIDA = base58PublicKey(priv.Public().(ed25519.PublicKey))
	}
	return e, nil
}

// HasEd25519 reports whether destination-A attestations are enabled.
func (e *Engine) HasEd25519() bool {
	return e.ed != nil
}

// PublicKeyA returns the raw ed25519 public key bytes backing this
// node's chain-A identity, the form the relay node's own releaseTokens
// invoke needs alongside the collected validators' signatures (§4.7
// step 4, §6 publicKeys). Nil if destination-A is disabled.
func (e *Engine) PublicKeyA() []byte {
	if e.ed == nil {
		return nil
	}
	return []byte(e.ed.Public().(ed25519.PublicKey))
}

// ValidatorID returns this engine's identity in the given destination
// chain's address space.
func (e *Engine) ValidatorID(destination model.ChainId) (string, error) {
	switch destination {
	case model.ChainB:
		return e.validatorIDB, nil
	case model.ChainA:
		if e.ed == nil {
			return "", ErrDestinationDisabled
		}
		return e.validatorIDA, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDest, destination)
	}
}

// Sign produces an Attestation for event's destination chain,
// dispatching to SignForB or SignForA.
func (e *Engine) Sign(event model.TransferEvent, res Resolution, now time.Time) (model.Attestation, error) {
	switch event.Destination {
	case model.ChainB:
		return e.SignForB(event, res.TokenRef, now)
	case model.ChainA:
		return e.SignForA(event, res.AssetRef, now)
	default:
		return model.Attestation{}, fmt.Errorf("%w: %s", ErrUnsupportedDest, event.Destination)
	}
}

// validateAmount enforces the boundary tests shared by both signing
// paths (§4.2 edge cases, §8 boundary tests).
func validateAmount(event model.TransferEvent) error {
	if event.Amount.IsZero() {
		return ErrZeroAmount
	}
	if event.Amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if !event.Kind.IsFungible() && event.Amount.Big().Cmp(big.NewInt(1)) != 0 {
		return ErrNonFungibleAmount
	}
	return nil
}

// SignForB builds and signs the chain-B attestation digest (§4.2).
func (e *Engine) SignForB(event model.TransferEvent, tokenRef common.Address, now time.Time) (model.Attestation, error) {
	if e.secp == nil {
		return model.Attestation{}, ErrDestinationDisabled
	}
	if err := validateAmount(event); err != nil {
		return model.Attestation{}, err
	}

	outer, err := e.OuterDigestB(event, tokenRef)
	if err != nil {
		return model.Attestation{}, err
	}
	digest := crypto.Keccak256(append([]byte(personalMessageBanner), outer...))

	sig, err := crypto.Sign(digest, e.secp.priv)
	if err != nil {
		return model.Attestation{}, fmt.Errorf("signing: sign chain-B digest: %w", err)
	}

	return model.Attestation{
		TransferID:    event.TransferID,
		Source:        event.Source,
		Destination:   event.Destination,
		ValidatorID:   e.validatorIDB,
		Signature:     sig,
		MessageDigest: digest,
		ProducedAt:    now.UnixMilli(),
	}, nil
}

// OuterDigestB computes the pre-banner packed digest for chain B
// (§4.2 step 2, and the byte-exact contract in §6):
//
//	keccak256(transfer_id_as_32_bytes ‖ token_ref ‖ amount_u256_be ‖
//	          recipient_20_bytes ‖ token_kind_u8 ‖ token_id_u256_be ‖
//	          destination_chain_id_u256_be)
func (e *Engine) OuterDigestB(event model.TransferEvent, tokenRef common.Address) ([]byte, error) {
	transferIDBytes, err := TransferIDBytes32(event.Source, event.TransferID)
	if err != nil {
		return nil, err
	}

	recipient, err := parse20ByteAddress(event.Recipient)
	if err != nil {
		return nil, fmt.Errorf("signing: parse recipient address: %w", err)
	}

	amount := event.Amount.Bytes32BE()

	var tokenIDBuf [32]byte
	new(big.Int).SetUint64(event.TokenIDOrZero()).FillBytes(tokenIDBuf[:])

	var destChainIDBuf [32]byte
	new(big.Int).SetInt64(e.chainBNumericID).FillBytes(destChainIDBuf[:])

	packed := make([]byte, 0, 32+20+32+20+1+32+32)
	packed = append(packed, transferIDBytes[:]...)
	packed = append(packed, tokenRef.Bytes()...)
	packed = append(packed, amount[:]...)
	packed = append(packed, recipient[:]...)
	packed = append(packed, byte(event.Kind))
	packed = append(packed, tokenIDBuf[:]...)
	packed = append(packed, destChainIDBuf[:]...)

	return crypto.Keccak256(packed), nil
}

// TransferIDBytes32 canonicalizes a transfer id into the 32-byte form
// used both in the chain-B digest and as the on-chain processed-set
// key, shared with package relay so both sides agree on the same bytes
// (§4.2, §4.7 step 1).
func TransferIDBytes32(source model.ChainId, transferID string) ([32]byte, error) {
	var out [32]byte
	if source == model.ChainA {
		hash := crypto.Keccak256([]byte(transferID))
		copy(out[:], hash)
		return out, nil
	}
	raw := strings.TrimPrefix(transferID, "0x")
	if len(raw) != 64 {
		return out, fmt.Errorf("signing: chain-B transfer id must decode to 32 bytes, got %d hex chars", len(raw))
	}
	b, err := decodeHex(raw)
	if err != nil {
		return out, fmt.Errorf("signing: decode transfer id: %w", err)
	}
	copy(out[:], b)
	return out, nil
}

func parse20ByteAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("signing: %q is not a 20-byte hex address", s)
	}
	return common.HexToAddress(s), nil
}

// SignForA builds and signs the chain-A attestation message (§4.2).
func (e *Engine) SignForA(event model.TransferEvent, assetRef string, now time.Time) (model.Attestation, error) {
	if e.ed == nil {
		return model.Attestation{}, ErrDestinationDisabled
	}
	if err := validateAmount(event); err != nil {
		return model.Attestation{}, err
	}

	digest := e.InnerDigestA(event, assetRef)
	sig := ed25519.Sign(e.ed, digest)

	return model.Attestation{
		TransferID:    event.TransferID,
		Source:        event.Source,
		Destination:   event.Destination,
		ValidatorID:   e.validatorIDA,
		Signature:     sig,
		PublicKey:     []byte(e.ed.Public().(ed25519.PublicKey)),
		MessageDigest: digest,
		ProducedAt:    now.UnixMilli(),
	}, nil
}

// InnerDigestA computes sha256(transfer_id ‖ recipient ‖ asset_ref ‖
// decimal(amount) ‖ decimal(chain_b_numeric_id)) per §4.2/§6. Plain
// string concatenation, no separators.
func (e *Engine) InnerDigestA(event model.TransferEvent, assetRef string) []byte {
	var b strings.Builder
	b.WriteString(event.TransferID)
	b.WriteString(event.Recipient)
	b.WriteString(assetRef)
	b.WriteString(event.Amount.String())
	fmt.Fprintf(&b, "%d", e.chainBNumericID)
	sum := sha256.Sum256([]byte(b.String()))
	return sum[:]
}

// SignRawEd25519 signs body with this engine's ed25519 key, for use as
// the relay node's own chain-A invoke-script authorization (§4.7 step
// 4) — a distinct signature from any attestation digest, over the
// release transaction body chain A itself expects.
func (e *Engine) SignRawEd25519(body []byte) ([]byte, error) {
	if e.ed == nil {
		return nil, ErrDestinationDisabled
	}
	return ed25519.Sign(e.ed, body), nil
}

// Verify checks that att verifies under the expected validator id,
// dispatching on att.Destination.
func (e *Engine) Verify(att model.Attestation, expectedID string) (bool, error) {
	switch att.Destination {
	case model.ChainB:
		return verifyB(att, expectedID)
	case model.ChainA:
		return verifyA(att, expectedID)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedDest, att.Destination)
	}
}

func verifyB(att model.Attestation, expectedID string) (bool, error) {
	if len(att.Signature) != 65 {
		return false, ErrBadSignatureLength
	}
	pub, err := crypto.SigToPub(att.MessageDigest, att.Signature)
	if err != nil {
		return false, fmt.Errorf("signing: recover signer: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(addr.Hex(), expectedID), nil
}

func verifyA(att model.Attestation, expectedID string) (bool, error) {
	if len(att.PublicKey) != ed25519.PublicKeySize {
		return false, ErrBadSignatureLength
	}
	if base58PublicKey(att.PublicKey) != expectedID {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(att.PublicKey), att.MessageDigest, att.Signature), nil
}
