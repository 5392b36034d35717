// Copyright 2025 Certen Protocol
package model

import (
	"errors"
	"math/big"
)

var oneBig = big.NewInt(1)

var (
	ErrInvalidChain           = errors.New("model: invalid chain id")
	ErrSameChain              = errors.New("model: source and destination chain must differ")
	ErrInvalidAmount          = errors.New("model: amount must be a positive integer")
	ErrNonFungibleAmount      = errors.New("model: non-fungible transfer amount must be exactly 1")
	ErrIllegalTransition      = errors.New("model: illegal transfer status transition")
	ErrWatermarkNotIncreasing = errors.New("model: watermark must strictly increase")
)
