// Copyright 2025 Certen Protocol
package chaina

import (
	"context"
	"fmt"
	"strconv"
)

// validatorThresholdKey is the bridge data row holding chain A's
// current quorum threshold, the A-side equivalent of chain B's
// validatorThreshold() view function. spec.md documents this read
// surface for chain B only (§6); this convention mirrors token_map_*
// and processed_* for the side it leaves silent.
const validatorThresholdKey = "validator_threshold"

// ValidatorThreshold returns chain A's current quorum threshold (§9
// "Quorum arithmetic" — fetched fresh, never trusted from a local
// constant).
func (c *Client) ValidatorThreshold(ctx context.Context) (int, error) {
	rows, err := c.AddressData(ctx, c.bridgeAddress)
	if err != nil {
		return 0, fmt.Errorf("chaina: get validator threshold: %w", err)
	}
	for _, row := range rows {
		if row.Key != validatorThresholdKey {
			continue
		}
		n, err := strconv.Atoi(row.StringValue())
		if err != nil {
			return 0, fmt.Errorf("chaina: malformed validator_threshold row %q: %w", row.StringValue(), err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("chaina: bridge has no validator_threshold row")
}
