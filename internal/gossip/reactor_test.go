// Copyright 2025 Certen Protocol
package gossip

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/certen/bridge-validator/internal/model"
)

func newTestReactor(t *testing.T, handlers Handlers, isKnown IsKnownValidator, selfSender string) *Reactor {
	t.Helper()
	if isKnown == nil {
		isKnown = func(string) bool { return true }
	}
	return &Reactor{
		handlers:   handlers,
		isKnown:    isKnown,
		selfSender: selfSender,
		logger:     nil,
		seen:       make(map[string]time.Time),
	}
}

func mustEnvelope(t *testing.T, msgType MessageType, sender string, sentAt time.Time, payload interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Envelope{Type: msgType, Payload: body, SenderValidatorID: sender, SentAtMs: sentAt.UnixMilli()}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestProcessEnvelopeDispatchesAttestation(t *testing.T) {
	var got model.Attestation
	r := newTestReactor(t, Handlers{OnAttestation: func(a model.Attestation) { got = a }}, nil, "self")

	att := model.Attestation{TransferID: "tx1", ValidatorID: "v1"}
	msg := mustEnvelope(t, MessageAttestation, "v1", time.Now(), att)

	if err := r.processEnvelope(chanAttestations, msg); err != nil {
		t.Fatalf("processEnvelope: %v", err)
	}
	if got.TransferID != "tx1" || got.ValidatorID != "v1" {
		t.Errorf("handler did not receive expected attestation: %+v", got)
	}
}

func TestProcessEnvelopeIgnoresSelfPublished(t *testing.T) {
	called := false
	r := newTestReactor(t, Handlers{OnAttestation: func(model.Attestation) { called = true }}, nil, "self")

	msg := mustEnvelope(t, MessageAttestation, "self", time.Now(), model.Attestation{})
	if err := r.processEnvelope(chanAttestations, msg); err != nil {
		t.Fatalf("processEnvelope: %v", err)
	}
	if called {
		t.Error("expected self-published message to be dropped")
	}
}

func TestProcessEnvelopeDropsStaleMessage(t *testing.T) {
	called := false
	r := newTestReactor(t, Handlers{OnTransfer: func(model.TransferEvent) { called = true }}, nil, "self")

	old := time.Now().Add(-20 * time.Minute)
	msg := mustEnvelope(t, MessageTransfer, "v2", old, model.TransferEvent{})
	if err := r.processEnvelope(chanTransfers, msg); err != nil {
		t.Fatalf("processEnvelope: %v", err)
	}
	if called {
		t.Error("expected stale message to be dropped")
	}
}

func TestProcessEnvelopeDropsDuplicate(t *testing.T) {
	count := 0
	r := newTestReactor(t, Handlers{OnTransfer: func(model.TransferEvent) { count++ }}, nil, "self")

	msg := mustEnvelope(t, MessageTransfer, "v2", time.Now(), model.TransferEvent{TransferID: "tx1"})
	if err := r.processEnvelope(chanTransfers, msg); err != nil {
		t.Fatalf("first processEnvelope: %v", err)
	}
	if err := r.processEnvelope(chanTransfers, msg); err != nil {
		t.Fatalf("second processEnvelope: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one dispatch, got %d", count)
	}
}

func TestProcessEnvelopeDropsUnknownValidatorAnnounce(t *testing.T) {
	called := false
	r := newTestReactor(t, Handlers{OnAnnounce: func(ValidatorAnnounce) { called = true }}, func(string) bool { return false }, "self")

	msg := mustEnvelope(t, MessageValidatorAnnounce, "v_unknown", time.Now(), ValidatorAnnounce{ValidatorID: "v_unknown"})
	if err := r.processEnvelope(chanValidatorAnnounce, msg); err != nil {
		t.Fatalf("processEnvelope: %v", err)
	}
	if called {
		t.Error("expected unknown validator announce to be dropped")
	}
}

func TestProcessEnvelopeRejectsUnknownChannel(t *testing.T) {
	r := newTestReactor(t, Handlers{}, nil, "self")
	msg := mustEnvelope(t, MessageHeartbeat, "v2", time.Now(), ValidatorAnnounce{})
	if err := r.processEnvelope(0xFF, msg); err == nil {
		t.Error("expected error for unknown channel id")
	}
}
