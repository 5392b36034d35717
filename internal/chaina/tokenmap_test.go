// Copyright 2025 Certen Protocol
package chaina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScanTokenMap(t *testing.T) {
	rows := []DataEntry{
		{Key: "token_map_WAVES", Value: "0x4025A8Ee89DAead315de690f0C250caB5309a115|8|Waves|WAVES"},
		{Key: "unrelated_key", Value: "ignored"},
	}
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rows)
	})
	defer srv.Close()

	got, err := c.ScanTokenMap(context.Background())
	if err != nil {
		t.Fatalf("ScanTokenMap: %v", err)
	}
	row, ok := got["WAVES"]
	if !ok {
		t.Fatal("expected WAVES entry")
	}
	if row.Unit0Address != "0x4025A8Ee89DAead315de690f0C250caB5309a115" || row.Decimals != 8 {
		t.Errorf("unexpected row: %+v", row)
	}
	if _, ok := got["unrelated"]; ok {
		t.Error("non-token_map row should have been skipped")
	}
}

func TestScanTokenMapMalformedRow(t *testing.T) {
	rows := []DataEntry{{Key: "token_map_BAD", Value: "not-enough-fields"}}
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rows)
	})
	defer srv.Close()

	_, err := c.ScanTokenMap(context.Background())
	if err == nil {
		t.Fatal("expected error for malformed row")
	}
}
