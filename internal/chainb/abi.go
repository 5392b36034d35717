// Copyright 2025 Certen Protocol
package chainb

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// bridgeABIJSON declares only the surface this node actually consumes
// or invokes (§6): the read-only lookups, the TokensLocked event, and
// the two release entry points.
const bridgeABIJSON = `[
  {"type":"function","name":"wavesToUnit0Token","stateMutability":"view",
   "inputs":[{"name":"assetId","type":"string"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"processedTransfers","stateMutability":"view",
   "inputs":[{"name":"transferId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"validatorThreshold","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"activeValidatorCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isValidator","stateMutability":"view",
   "inputs":[{"name":"addr","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"releaseTokens","stateMutability":"nonpayable",
   "inputs":[
     {"name":"transferId","type":"bytes32"},
     {"name":"tokenRef","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"recipient","type":"address"},
     {"name":"kind","type":"uint8"},
     {"name":"tokenId","type":"uint256"},
     {"name":"signatures","type":"bytes[]"}
   ],"outputs":[]},
  {"type":"function","name":"releaseNFT","stateMutability":"nonpayable",
   "inputs":[
     {"name":"transferId","type":"bytes32"},
     {"name":"tokenRef","type":"address"},
     {"name":"recipient","type":"address"},
     {"name":"tokenId","type":"uint256"},
     {"name":"signatures","type":"bytes[]"}
   ],"outputs":[]},
  {"type":"event","name":"TokensLocked","anonymous":false,
   "inputs":[
     {"name":"lockId","type":"bytes32","indexed":true},
     {"name":"token","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"sender","type":"address","indexed":true},
     {"name":"wavesDestination","type":"string","indexed":false},
     {"name":"nonce","type":"uint256","indexed":false},
     {"name":"tokenType","type":"uint8","indexed":false},
     {"name":"tokenId","type":"uint256","indexed":false}
   ]}
]`

var bridgeABI abi.ABI

// tokensLockedTopic is the keccak256 hash of the TokensLocked event
// signature, used as the log topic filter (§4.4).
var tokensLockedTopic = crypto.Keccak256Hash([]byte("TokensLocked(bytes32,address,uint256,address,string,uint256,uint8,uint256)"))

func init() {
	parsed, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		panic("chainb: invalid embedded bridge ABI: " + err.Error())
	}
	bridgeABI = parsed
}
