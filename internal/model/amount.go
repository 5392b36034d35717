// Copyright 2025 Certen Protocol
package model

import (
	"fmt"
	"math/big"
)

// Amount wraps an arbitrary-width unsigned integer. It is encoded as a
// quoted decimal string in JSON so that values larger than a float64's
// 53-bit mantissa survive persistence and the status HTTP surface
// without precision loss (§4.1: "explicit tagged encoding, not native
// float").
type Amount struct {
	v *big.Int
}

// NewAmount wraps an int64 value. Use AmountFromString for values that
// do not fit in an int64.
func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// AmountFromBigInt wraps an existing big.Int, copying it defensively.
func AmountFromBigInt(v *big.Int) Amount {
	if v == nil {
		return Amount{v: big.NewInt(0)}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// AmountFromString parses a base-10 unsigned integer string.
func AmountFromString(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid decimal amount %q", s)
	}
	return Amount{v: v}, nil
}

// Big returns the underlying big.Int. Callers must not mutate it.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Sign returns -1, 0, or 1 matching big.Int.Sign.
func (a Amount) Sign() int {
	return a.Big().Sign()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Big().Sign() == 0
}

// String renders the amount as a base-10 decimal string.
func (a Amount) String() string {
	return a.Big().String()
}

// Bytes32BE renders the amount as a 32-byte big-endian buffer, matching
// the EVM's uint256 packed encoding (§4.2).
func (a Amount) Bytes32BE() [32]byte {
	var out [32]byte
	a.Big().FillBytes(out[:])
	return out
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes a quoted decimal string, or a bare JSON number
// for tolerance with hand-written fixtures.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid decimal amount %q", string(data))
	}
	a.v = v
	return nil
}
