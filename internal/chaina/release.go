// Copyright 2025 Certen Protocol
package chaina

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const functionReleaseTokens = "releaseTokens"

// ReleaseCall is the Relay Engine's A-side release invocation, mirroring
// releaseTokens(string transferId, string recipient, string assetId,
// int amount, list<binary> signatures, list<binary> publicKeys) (§4.7, §6).
type ReleaseCall struct {
	TransferID string
	Recipient  string
	AssetID    string
	Amount     int64
	Signatures [][]byte
	PublicKeys [][]byte
}

// binaryArgList renders call args as base64 strings, the node REST API's
// wire form for list<binary> invoke parameters.
func binaryArgList(items [][]byte) []interface{} {
	out := make([]interface{}, len(items))
	for i, b := range items {
		out[i] = "base64:" + base64.StdEncoding.EncodeToString(b)
	}
	return out
}

// buildInvokeBody serializes the invoke fields this node actually needs
// to sign, in a fixed field order, so that the same bytes are produced
// deterministically for a given ReleaseCall (§4.7 "byte-exact").
func buildInvokeBody(senderPublicKey []byte, bridgeAddress string, call ReleaseCall, fee, timestamp int64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(invokeScriptTxType)
	buf.Write(senderPublicKey)
	buf.WriteString(bridgeAddress)
	buf.WriteString(functionReleaseTokens)
	buf.WriteString(call.TransferID)
	buf.WriteString(call.Recipient)
	buf.WriteString(call.AssetID)

	var amountBuf [8]byte
	binary.BigEndian.PutUint64(amountBuf[:], uint64(call.Amount))
	buf.Write(amountBuf[:])

	for _, sig := range call.Signatures {
		buf.Write(sig)
	}
	for _, pub := range call.PublicKeys {
		buf.Write(pub)
	}

	var feeBuf, tsBuf [8]byte
	binary.BigEndian.PutUint64(feeBuf[:], uint64(fee))
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))
	buf.Write(feeBuf[:])
	buf.Write(tsBuf[:])

	return buf.Bytes()
}

// Signer produces a detached signature over body, using the relay
// node's own ed25519 validator key (§4.2 "destination = A" key material).
type Signer func(body []byte) ([]byte, error)

// SubmitRelease broadcasts a releaseTokens invoke carrying the collected
// validator signatures and public keys (§4.7 step for destination = A).
func (c *Client) SubmitRelease(ctx context.Context, call ReleaseCall, senderAddress string, senderPublicKey []byte, fee int64, sign Signer) (string, error) {
	timestamp := time.Now().UnixMilli()
	body := buildInvokeBody(senderPublicKey, c.bridgeAddress, call, fee, timestamp)

	proof, err := sign(body)
	if err != nil {
		return "", fmt.Errorf("chaina: sign invoke body: %w", err)
	}

	payload := map[string]interface{}{
		"type":            invokeScriptTxType,
		"version":         2,
		"sender":          senderAddress,
		"senderPublicKey": base64.StdEncoding.EncodeToString(senderPublicKey),
		"dApp":            c.bridgeAddress,
		"call": map[string]interface{}{
			"function": functionReleaseTokens,
			"args": []map[string]interface{}{
				{"type": "string", "value": call.TransferID},
				{"type": "string", "value": call.Recipient},
				{"type": "string", "value": call.AssetID},
				{"type": "integer", "value": call.Amount},
				{"type": "list", "value": binaryArgList(call.Signatures)},
				{"type": "list", "value": binaryArgList(call.PublicKeys)},
			},
		},
		"payment":   []interface{}{},
		"fee":       fee,
		"timestamp": timestamp,
		"proofs":    []string{"base64:" + base64.StdEncoding.EncodeToString(proof)},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/transactions/broadcast", payload, &resp); err != nil {
		return "", fmt.Errorf("chaina: broadcast releaseTokens: %w", err)
	}
	return resp.ID, nil
}
