// Copyright 2025 Certen Protocol
//
// Package server implements the validator's read-only status HTTP
// surface (§6 "Status HTTP"): /health, /status, /stats,
// /transfers/pending, /transfers/{key}, /transfers/{key}/attestations,
// /validators, plus a Prometheus /metrics endpoint. None of these
// routes sit on the critical path of any chain operation — they only
// ever read from the Store.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/bridge-validator/internal/model"
	"github.com/certen/bridge-validator/internal/store"
)

// Store is the read-only persistence capability the status surface
// needs.
type Store interface {
	GetStats() (store.Stats, error)
	ListOpenTransfers() ([]*model.TransferRecord, error)
	GetTransfer(source model.ChainId, transferID string) (*model.TransferRecord, error)
	ListAttestations(source model.ChainId, transferID string) ([]model.Attestation, error)
	ListValidatorCounters() ([]store.NamedValidatorCounters, error)
	Watermark(c model.ChainId) (uint64, error)
}

// Metrics are the Prometheus gauges/counters the Coordinator updates
// and this server exposes on /metrics (§11 domain stack table).
type Metrics struct {
	Registry           *prometheus.Registry
	OpenTransfers      prometheus.Gauge
	AttestationsTotal  prometheus.Counter
	RelayFailuresTotal prometheus.Counter
}

// NewMetrics builds and registers the status server's Prometheus
// collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		OpenTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certen_validator_open_transfers",
			Help: "Number of transfer records not yet Completed or Failed.",
		}),
		AttestationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certen_validator_attestations_total",
			Help: "Total attestations produced by this validator.",
		}),
		RelayFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certen_validator_relay_failures_total",
			Help: "Total terminal relay failures observed by this validator.",
		}),
	}
	reg.MustRegister(m.OpenTransfers, m.AttestationsTotal, m.RelayFailuresTotal)
	return m
}

// SetOpenTransfers, IncAttestationsProduced, and IncRelayFailures
// implement the coordinator.MetricsRecorder capability interface so
// the Coordinator can update these gauges/counters without importing
// prometheus directly.
func (m *Metrics) SetOpenTransfers(n int) { m.OpenTransfers.Set(float64(n)) }

func (m *Metrics) IncAttestationsProduced() { m.AttestationsTotal.Inc() }

func (m *Metrics) IncRelayFailures() { m.RelayFailuresTotal.Inc() }

// Handlers serves the status HTTP surface.
type Handlers struct {
	store       Store
	validatorID string
	startedAt   time.Time
	metrics     *Metrics
	logger      *log.Logger
}

// NewHandlers constructs the status HTTP handlers.
func NewHandlers(s Store, validatorID string, metrics *Metrics, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[StatusAPI] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handlers{
		store:       s,
		validatorID: validatorID,
		startedAt:   time.Now(),
		metrics:     metrics,
		logger:      logger,
	}
}

// Mux builds an *http.ServeMux with every status route registered,
// matching the teacher's one-handler-struct-per-concern, single-mux
// registration style (main.go's mux.HandleFunc block).
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/validators", h.HandleValidators)
	mux.HandleFunc("/transfers/pending", h.HandleTransfersPending)
	mux.HandleFunc("/transfers/", h.HandleTransferByKey)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

// HandleHealth handles GET /health: a cheap liveness probe that never
// touches the store.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleStatus handles GET /status: validator identity, uptime, and
// both chains' watermarks.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	watermarkA, err := h.store.Watermark(model.ChainA)
	if err != nil {
		writeJSONError(w, "failed to read chain A watermark", http.StatusInternalServerError)
		return
	}
	watermarkB, err := h.store.Watermark(model.ChainB)
	if err != nil {
		writeJSONError(w, "failed to read chain B watermark", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"validator_id": h.validatorID,
		"uptime":       time.Since(h.startedAt).String(),
		"watermark_a":  watermarkA,
		"watermark_b":  watermarkB,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStats handles GET /stats: per-status transfer counts.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.store.GetStats()
	if err != nil {
		writeJSONError(w, "failed to read stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// HandleValidators handles GET /validators: per-validator attestation
// and relay counters.
func (h *Handlers) HandleValidators(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counters, err := h.store.ListValidatorCounters()
	if err != nil {
		writeJSONError(w, "failed to read validator counters", http.StatusInternalServerError)
		return
	}
	writeJSON(w, counters)
}

// HandleTransfersPending handles GET /transfers/pending: every record
// in Pending, Attesting, or Relaying.
func (h *Handlers) HandleTransfersPending(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records, err := h.store.ListOpenTransfers()
	if err != nil {
		writeJSONError(w, "failed to list pending transfers", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// HandleTransferByKey handles GET /transfers/{key} and GET
// /transfers/{key}/attestations, where key is TransferEvent.Key()'s
// "<source>:<transfer_id>" form (the transfer id itself may contain
// colons, so the source is split off the front only).
func (h *Handlers) HandleTransferByKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/transfers/")
	wantAttestations := false
	if strings.HasSuffix(path, "/attestations") {
		wantAttestations = true
		path = strings.TrimSuffix(path, "/attestations")
	}

	source, transferID, ok := splitTransferKey(path)
	if !ok {
		writeJSONError(w, "transfer key must be of the form <source>:<transfer_id>", http.StatusBadRequest)
		return
	}

	if wantAttestations {
		atts, err := h.store.ListAttestations(source, transferID)
		if err != nil {
			writeJSONError(w, "failed to read attestations", http.StatusInternalServerError)
			return
		}
		writeJSON(w, atts)
		return
	}

	record, err := h.store.GetTransfer(source, transferID)
	if err != nil {
		writeJSONError(w, "transfer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, record)
}

func splitTransferKey(path string) (model.ChainId, string, bool) {
	idx := strings.IndexByte(path, ':')
	if idx <= 0 || idx == len(path)-1 {
		return model.ChainUnknown, "", false
	}
	var source model.ChainId
	switch path[:idx] {
	case "A":
		source = model.ChainA
	case "B":
		source = model.ChainB
	default:
		return model.ChainUnknown, "", false
	}
	return source, path[idx+1:], true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
