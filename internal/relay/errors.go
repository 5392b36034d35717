// Copyright 2025 Certen Protocol
package relay

import (
	"context"
	"errors"
	"strings"
)

// transientMarkers are substrings of an underlying RPC/HTTP error that
// identify it as retryable: timeouts, nonce races, and rate limiting
// (§4.7 "Idempotence": "timeout, nonce collision, rate-limit"). Matched
// case-insensitively since the exact wording varies by node
// implementation and go-ethereum error type.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"rate limit",
	"too many requests",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
}

// classify turns a submission error into a Result, deciding whether the
// record should remain in Relaying (transient) or move to Failed
// (terminal).
func (e *Engine) classify(err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeCompleted}
	}
	if isTransient(err) {
		return Result{Outcome: OutcomeTransient, FailureClass: "transient", Err: err}
	}
	return Result{Outcome: OutcomeFailed, FailureClass: "submission_failed", Err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
