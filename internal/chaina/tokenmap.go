// Copyright 2025 Certen Protocol
package chaina

import (
	"context"
	"fmt"
	"strings"

	"github.com/certen/bridge-validator/internal/resolver"
)

// tokenMapKeyPrefix is the bridge's data-row namespace holding B-side
// token mappings; the key suffix after the prefix is the A-side asset id
// (§4.5).
const (
	tokenMapKeyPrefix = "token_map_"
	processedKeyPrefix = "processed_"
)

// ScanTokenMap satisfies resolver.ChainATokenMapScanner: it scans the
// bridge's token_map_* namespace and parses each row's
// `unit0_address|decimals|name|symbol` value.
func (c *Client) ScanTokenMap(ctx context.Context) (map[string]resolver.TokenMapRow, error) {
	rows, err := c.AddressData(ctx, c.bridgeAddress)
	if err != nil {
		return nil, fmt.Errorf("chaina: scan token map: %w", err)
	}

	result := make(map[string]resolver.TokenMapRow)
	for _, row := range rows {
		if !strings.HasPrefix(row.Key, tokenMapKeyPrefix) {
			continue
		}
		assetID := strings.TrimPrefix(row.Key, tokenMapKeyPrefix)
		parsed, err := resolver.ParseTokenMapRow(row.StringValue())
		if err != nil {
			return nil, fmt.Errorf("chaina: token_map row %q: %w", row.Key, err)
		}
		result[assetID] = parsed
	}
	return result, nil
}

// IsProcessed reports whether the bridge has already written a
// `processed_<transfer_id>` data row, the A-side equivalent of chain
// B's `processedTransfers` view function (§4.7 step 1, Scenario 6).
func (c *Client) IsProcessed(ctx context.Context, transferID string) (bool, error) {
	rows, err := c.AddressData(ctx, c.bridgeAddress)
	if err != nil {
		return false, fmt.Errorf("chaina: check processed flag: %w", err)
	}
	key := processedKeyPrefix + transferID
	for _, row := range rows {
		if row.Key == key {
			return true, nil
		}
	}
	return false, nil
}
