// Copyright 2025 Certen Protocol
//
// Package store is the validator's single ordered key-value
// persistence layer: transfers, attestations, watermarks, and
// validator counters (§4.1).
package store

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KV is the minimal durable key-value seam the store depends on. It is
// satisfied by KVAdapter below, and by any in-memory fake used in
// tests.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Iterator(start, end []byte) (dbm.Iterator, error)
}

// KVAdapter wraps a CometBFT dbm.DB and exposes the KV interface used
// throughout this package.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get returns the value for key, or (nil, nil) if absent.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set writes key/value durably. SetSync is used so a crash immediately
// after acknowledging a write externally cannot lose it (§4.1 failure
// semantics).
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Iterator returns a forward iterator over [start, end).
func (a *KVAdapter) Iterator(start, end []byte) (dbm.Iterator, error) {
	return a.db.Iterator(start, end)
}

// OpenGoLevelDB opens (or creates) a goleveldb-backed store rooted at
// dataDir, the same backend the teacher wires through cometbft-db.
func OpenGoLevelDB(name, dataDir string) (dbm.DB, error) {
	return dbm.NewGoLevelDB(name, dataDir)
}
