// Copyright 2025 Certen Protocol
package store

import (
	"fmt"

	"github.com/certen/bridge-validator/internal/model"
)

// Key layout (§4.1):
//   transfer:<source>:<id>                       -> TransferRecord
//   attest:<source>:<transfer_id>:<validator_id> -> Attestation
//   watermark:A / watermark:B                    -> uint64
//   validator:<id>                               -> ValidatorCounters

const transferPrefix = "transfer:"

func transferKey(source model.ChainId, transferID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", transferPrefix, source, transferID))
}

func attestKey(source model.ChainId, transferID, validatorID string) []byte {
	return []byte(fmt.Sprintf("attest:%s:%s:%s", source, transferID, validatorID))
}

func attestScanPrefix(source model.ChainId, transferID string) []byte {
	return []byte(fmt.Sprintf("attest:%s:%s:", source, transferID))
}

func watermarkKey(c model.ChainId) []byte {
	return []byte(fmt.Sprintf("watermark:%s", c))
}

func validatorKey(id string) []byte {
	return []byte(fmt.Sprintf("validator:%s", id))
}

const validatorPrefix = "validator:"

// validatorScanRange returns the [start, end) range covering every
// validator: key, used by ListValidatorCounters.
func validatorScanRange() ([]byte, []byte) {
	start := []byte(validatorPrefix)
	end := append([]byte{}, start...)
	end[len(end)-1]++
	return start, end
}

// transferScanRange returns the [start, end) range covering every
// transfer: key, used by ListOpenTransfers.
func transferScanRange() ([]byte, []byte) {
	start := []byte(transferPrefix)
	end := append([]byte{}, start...)
	end[len(end)-1]++
	return start, end
}
