// Copyright 2025 Certen Protocol
//
// Package chaina is the account-based L0 chain client: it polls blocks
// over the node's HTTP REST API, extracts bridge lock invokes, exposes
// the bridge's data-row namespace, and submits release invokes (§4.3,
// §4.6, §6).
package chaina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps a chain-A node's REST API bound to one bridge dApp
// address (§6 chain_a_node_url, chain_a_network_tag, chain_a_bridge_address).
type Client struct {
	http          *http.Client
	baseURL       string
	networkTag    byte
	bridgeAddress string
}

// NewClient constructs a Client against nodeURL. networkTag is the
// single-character chain id byte used in address validation.
func NewClient(nodeURL, networkTag, bridgeAddress string) (*Client, error) {
	if _, err := url.Parse(nodeURL); err != nil {
		return nil, fmt.Errorf("chaina: invalid node url %q: %w", nodeURL, err)
	}
	if len(networkTag) != 1 {
		return nil, fmt.Errorf("chaina: network tag must be a single character, got %q", networkTag)
	}
	return &Client{
		http:          &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimSuffix(nodeURL, "/"),
		networkTag:    networkTag[0],
		bridgeAddress: bridgeAddress,
	}, nil
}

// BridgeAddress returns the bound bridge dApp address.
func (c *Client) BridgeAddress() string { return c.bridgeAddress }

// NetworkTag returns the configured network tag byte.
func (c *Client) NetworkTag() byte { return c.networkTag }

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("chaina: build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chaina: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chaina: read body for %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chaina: GET %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("chaina: decode response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chaina: marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("chaina: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chaina: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chaina: read body for %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chaina: POST %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("chaina: decode response for %s: %w", path, err)
		}
	}
	return nil
}

// Height returns the current chain head (§4.3 get_height via
// /blocks/height).
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := c.getJSON(ctx, "/blocks/height", &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

// BlockAt fetches the full block at height h via /blocks/at/{h}.
func (c *Client) BlockAt(ctx context.Context, h uint64) (*Block, error) {
	var block Block
	if err := c.getJSON(ctx, fmt.Sprintf("/blocks/at/%d", h), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// AddressData fetches the full data-row namespace of addr via
// /addresses/data/{addr} (§4.5 ScanTokenMap, §4.3 transfer id resolution).
func (c *Client) AddressData(ctx context.Context, addr string) ([]DataEntry, error) {
	var entries []DataEntry
	if err := c.getJSON(ctx, fmt.Sprintf("/addresses/data/%s", addr), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
