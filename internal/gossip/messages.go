// Copyright 2025 Certen Protocol
//
// Package gossip implements the Gossip Overlay (§4.6): a peer-to-peer
// publish/subscribe mesh over cometbft's authenticated, encrypted p2p
// transport, carrying attestations, new transfer events, and validator
// liveness announcements.
package gossip

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MessageType tags the payload carried by an Envelope.
type MessageType string

const (
	MessageAttestation       MessageType = "attestation"
	MessageTransfer          MessageType = "transfer"
	MessageValidatorAnnounce MessageType = "validator_announce"
	MessageHeartbeat         MessageType = "heartbeat"
)

// Envelope is the wire message shape required by §4.6:
// {type, payload, sender_validator_id, sent_at}.
type Envelope struct {
	Type              MessageType     `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	SenderValidatorID string          `json:"sender_validator_id"`
	SentAtMs          int64           `json:"sent_at"`
}

// ValidatorAnnounce is the validator-announce topic's payload: a
// liveness/identity announcement distinct from attestation traffic.
type ValidatorAnnounce struct {
	ValidatorID string `json:"validator_id"`
	AnnouncedAt int64  `json:"announced_at"`
}

// hash returns a stable fingerprint of raw message bytes, used for the
// overlay's duplicate-suppression cache.
func hash(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
