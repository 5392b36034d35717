// Copyright 2025 Certen Protocol
package store

import "errors"

var (
	ErrNotFound       = errors.New("store: key not found")
	ErrAlreadyExists  = errors.New("store: transfer already exists")
)
