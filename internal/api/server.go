// Package api serves the read-only query surface over ingested data, runs
// and analysis. It never writes: all mutation happens through the pipeline.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/observability"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// Server exposes the HTTP query endpoints.
type Server struct {
	normalized  storage.NormalizedStore
	coins       storage.MasterCoinStore
	mappings    storage.MappingStore
	runs        storage.RunStore
	checkpoints storage.CheckpointStore
	metrics     *observability.Metrics

	// sources maps each configured source to its checkpoint type, needed to
	// read checkpoints for status reporting.
	sources map[domain.Source]domain.CheckpointType

	driftThreshold float64
	anomalySigma   float64
	logger         *log.Logger
}

// Options configures a Server.
type Options struct {
	Normalized  storage.NormalizedStore
	Coins       storage.MasterCoinStore
	Mappings    storage.MappingStore
	Runs        storage.RunStore
	Checkpoints storage.CheckpointStore

	// Metrics is optional; nil omits the /metrics route.
	Metrics *observability.Metrics

	Sources map[domain.Source]domain.CheckpointType

	// DriftThreshold is the Jaccard similarity cutoff for /api/drift.
	// Default 0.9.
	DriftThreshold float64

	// AnomalySigma is the deviation cutoff for /api/runs/anomalies.
	// Default 2.0.
	AnomalySigma float64

	Logger *log.Logger
}

// New creates a new API server.
func New(opts Options) *Server {
	driftThreshold := opts.DriftThreshold
	if driftThreshold <= 0 {
		driftThreshold = 0.9
	}
	sigma := opts.AnomalySigma
	if sigma <= 0 {
		sigma = 2.0
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		normalized:     opts.Normalized,
		coins:          opts.Coins,
		mappings:       opts.Mappings,
		runs:           opts.Runs,
		checkpoints:    opts.Checkpoints,
		metrics:        opts.Metrics,
		sources:        opts.Sources,
		driftThreshold: driftThreshold,
		anomalySigma:   sigma,
		logger:         logger,
	}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/coins", s.handleCoins)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/compare", s.handleCompareRuns)
	mux.HandleFunc("/api/runs/anomalies", s.handleAnomalies)
	mux.HandleFunc("/api/drift", s.handleDrift)
	mux.HandleFunc("/api/stats", s.handleStats)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeJSON encodes the payload with a JSON content type.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("Failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
