// Copyright 2025 Certen Protocol
package chaina

import "strconv"

// invokeScriptTxType is the on-chain transaction type for "invoke dApp"
// calls (§4.3, §6).
const invokeScriptTxType = 16

// DataEntry is one row of an address's key/value data namespace.
type DataEntry struct {
	Key   string      `json:"key"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// StringValue returns the entry's value as a string, or "" if it isn't
// one (data rows are typed: string/integer/boolean/binary).
func (d DataEntry) StringValue() string {
	s, _ := d.Value.(string)
	return s
}

// Payment is a single attached-payment entry on an invoke transaction;
// a nil AssetID denotes the chain's native asset.
type Payment struct {
	AssetID *string `json:"assetId"`
	Amount  int64   `json:"amount"`
}

// CallArg is one positional argument of a function call invocation.
type CallArg struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// StringValue returns the arg's value as a string, or "" if it isn't one.
func (a CallArg) StringValue() string {
	s, _ := a.Value.(string)
	return s
}

// IntValue returns the arg's value as an int64, tolerating both JSON
// numbers and numeric strings (node REST APIs vary on this).
func (a CallArg) IntValue() (int64, bool) {
	switch v := a.Value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// FunctionCall is the invoke's dApp function call payload.
type FunctionCall struct {
	Function string    `json:"function"`
	Args     []CallArg `json:"args"`
}

// Transaction is the subset of a chain-A transaction this validator
// inspects (§4.3).
type Transaction struct {
	Type      int           `json:"type"`
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	DApp      string        `json:"dApp"`
	Call      *FunctionCall `json:"call"`
	Payment   []Payment     `json:"payment"`
	Height    uint64        `json:"height"`
	Timestamp int64         `json:"timestamp"`
}

// IsInvokeOn reports whether tx is an invoke-script call targeting
// bridgeAddress.
func (tx Transaction) IsInvokeOn(bridgeAddress string) bool {
	return tx.Type == invokeScriptTxType && tx.DApp == bridgeAddress && tx.Call != nil
}

// Block is the subset of a chain-A block this validator inspects.
type Block struct {
	Height       uint64        `json:"height"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}
