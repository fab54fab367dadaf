package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/etl"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

const (
	defaultDataLimit = 100
	maxDataLimit     = 1000
	defaultRunLimit  = 50
)

// recordResponse is the JSON shape of a normalized record.
type recordResponse struct {
	Source            domain.Source       `json:"source"`
	SourceID          string              `json:"source_id"`
	MasterCoinID      *int64              `json:"master_coin_id"`
	Symbol            string              `json:"symbol"`
	Name              string              `json:"name"`
	PriceUSD          decimal.NullDecimal `json:"price_usd"`
	MarketCapUSD      decimal.NullDecimal `json:"market_cap_usd"`
	Volume24hUSD      decimal.NullDecimal `json:"volume_24h_usd"`
	Rank              *int                `json:"rank"`
	CirculatingSupply decimal.NullDecimal `json:"circulating_supply"`
	TotalSupply       decimal.NullDecimal `json:"total_supply"`
	MaxSupply         decimal.NullDecimal `json:"max_supply"`
	PercentChange24h  decimal.NullDecimal `json:"percent_change_24h"`
	AdditionalData    map[string]any      `json:"additional_data,omitempty"`
	DataTimestamp     time.Time           `json:"data_timestamp"`
	IngestedAt        time.Time           `json:"ingested_at"`
}

func toRecordResponse(rec *domain.NormalizedRecord) recordResponse {
	return recordResponse{
		Source:            rec.Source,
		SourceID:          rec.SourceID,
		MasterCoinID:      rec.MasterCoinID,
		Symbol:            rec.Symbol,
		Name:              rec.Name,
		PriceUSD:          rec.PriceUSD,
		MarketCapUSD:      rec.MarketCapUSD,
		Volume24hUSD:      rec.Volume24hUSD,
		Rank:              rec.Rank,
		CirculatingSupply: rec.CirculatingSupply,
		TotalSupply:       rec.TotalSupply,
		MaxSupply:         rec.MaxSupply,
		PercentChange24h:  rec.PercentChange24h,
		AdditionalData:    rec.AdditionalData,
		DataTimestamp:     rec.DataTimestamp,
		IngestedAt:        rec.IngestedAt,
	}
}

// handleData serves the latest record per (source, source_id), optionally
// filtered by ?source= and ?symbol=.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var source *domain.Source
	if v := r.URL.Query().Get("source"); v != "" {
		src := domain.Source(v)
		if !src.IsValid() {
			s.writeError(w, http.StatusBadRequest, "unknown source: "+v)
			return
		}
		source = &src
	}
	var symbol *string
	if v := r.URL.Query().Get("symbol"); v != "" {
		symbol = &v
	}
	limit := queryInt(r, "limit", defaultDataLimit)
	if limit <= 0 || limit > maxDataLimit {
		limit = defaultDataLimit
	}

	records, err := s.normalized.GetLatest(r.Context(), source, symbol, limit)
	if err != nil {
		s.logger.Printf("Query latest records failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "data": out})
}

type coinResponse struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	CanonicalID string    `json:"canonical_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type mappingResponse struct {
	MasterCoinID int64         `json:"master_coin_id"`
	Source       domain.Source `json:"source"`
	SourceID     string        `json:"source_id"`
	Confidence   float64       `json:"confidence"`
	NeedsReview  bool          `json:"needs_review"`
}

func toMappingResponses(mappings []*domain.SourceMapping) []mappingResponse {
	out := make([]mappingResponse, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, mappingResponse{
			MasterCoinID: m.MasterCoinID,
			Source:       m.Source,
			SourceID:     m.SourceID,
			Confidence:   m.Confidence,
			NeedsReview:  m.NeedsReview,
		})
	}
	return out
}

// handleCoins serves the master coin registry. ?symbol= narrows to one coin
// with its source mappings; ?review=true serves mappings flagged for manual
// review instead.
func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("review") == "true" {
		flagged, err := s.mappings.ListFlagged(r.Context())
		if err != nil {
			s.logger.Printf("Query flagged mappings failed: %v", err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"count": len(flagged), "mappings": toMappingResponses(flagged)})
		return
	}

	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		coin, err := s.coins.GetBySymbol(r.Context(), symbol)
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "coin not found")
			return
		}
		if err != nil {
			s.logger.Printf("Query coin failed: %v", err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		mappings, err := s.mappings.ListByMasterCoin(r.Context(), coin.ID)
		if err != nil {
			s.logger.Printf("Query mappings failed: %v", err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"coin":     toCoinResponse(coin),
			"mappings": toMappingResponses(mappings),
		})
		return
	}

	coins, err := s.coins.List(r.Context())
	if err != nil {
		s.logger.Printf("Query coins failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]coinResponse, 0, len(coins))
	for _, coin := range coins {
		out = append(out, toCoinResponse(coin))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "coins": out})
}

func toCoinResponse(coin *domain.MasterCoin) coinResponse {
	return coinResponse{
		ID:          coin.ID,
		Symbol:      coin.Symbol,
		Name:        coin.Name,
		CanonicalID: coin.CanonicalID,
		CreatedAt:   coin.CreatedAt,
		UpdatedAt:   coin.UpdatedAt,
	}
}

type runResponse struct {
	RunID            string           `json:"run_id"`
	Source           domain.Source    `json:"source"`
	Status           domain.RunStatus `json:"status"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at"`
	DurationSeconds  *float64         `json:"duration_seconds"`
	RecordsFetched   int              `json:"records_fetched"`
	RecordsProcessed int              `json:"records_processed"`
	RecordsFailed    int              `json:"records_failed"`
	ErrorMessage     *string          `json:"error_message,omitempty"`
	SchemaFields     []string         `json:"schema_fields,omitempty"`
}

func toRunResponse(run *domain.Run) runResponse {
	return runResponse{
		RunID:            run.RunID,
		Source:           run.SourceName,
		Status:           run.Status,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		DurationSeconds:  run.DurationSeconds,
		RecordsFetched:   run.RecordsFetched,
		RecordsProcessed: run.RecordsProcessed,
		RecordsFailed:    run.RecordsFailed,
		ErrorMessage:     run.ErrorMessage,
		SchemaFields:     run.SchemaFields,
	}
}

// handleRuns serves the run ledger. ?source= narrows to one source;
// ?since=RFC3339 filters by start time (default last 24h without a source).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var runs []*domain.Run
	var err error
	if v := r.URL.Query().Get("source"); v != "" {
		src := domain.Source(v)
		if !src.IsValid() {
			s.writeError(w, http.StatusBadRequest, "unknown source: "+v)
			return
		}
		runs, err = s.runs.ListBySource(r.Context(), src, queryInt(r, "limit", defaultRunLimit))
	} else {
		since := time.Now().UTC().Add(-24 * time.Hour)
		if v := r.URL.Query().Get("since"); v != "" {
			since, err = time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid since timestamp")
				return
			}
		}
		runs, err = s.runs.ListSince(r.Context(), since)
	}
	if err != nil {
		s.logger.Printf("Query runs failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "runs": out})
}

// handleCompareRuns compares two runs by ID: count deltas plus a field-set
// diff when the runs drifted apart.
func (s *Server) handleCompareRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	baseID := r.URL.Query().Get("base")
	targetID := r.URL.Query().Get("target")
	if baseID == "" || targetID == "" {
		s.writeError(w, http.StatusBadRequest, "base and target run IDs are required")
		return
	}

	base, err := s.runs.GetByID(r.Context(), baseID)
	if err != nil {
		s.runNotFound(w, baseID, err)
		return
	}
	target, err := s.runs.GetByID(r.Context(), targetID)
	if err != nil {
		s.runNotFound(w, targetID, err)
		return
	}

	resp := map[string]any{
		"base":   toRunResponse(base),
		"target": toRunResponse(target),
		"delta": map[string]int{
			"records_fetched":   target.RecordsFetched - base.RecordsFetched,
			"records_processed": target.RecordsProcessed - base.RecordsProcessed,
			"records_failed":    target.RecordsFailed - base.RecordsFailed,
		},
	}
	// Threshold 1.0 forces a report for any field-set difference; comparison
	// is explicit, so even small diffs are interesting.
	if drift := etl.DetectDrift(base, target, 1.0); drift != nil {
		resp["drift"] = drift
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runNotFound(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found: "+runID)
		return
	}
	s.logger.Printf("Query run %s failed: %v", runID, err)
	s.writeError(w, http.StatusInternalServerError, "query failed")
}

// handleAnomalies flags runs whose volume or duration deviates from their
// source's history. ?source= narrows to one source.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sources, ok := s.querySources(w, r)
	if !ok {
		return
	}

	anomalies := make([]etl.Anomaly, 0)
	for _, src := range sources {
		runs, err := s.runs.ListBySource(r.Context(), src, defaultRunLimit)
		if err != nil {
			s.logger.Printf("Query runs for %s failed: %v", src, err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		anomalies = append(anomalies, etl.DetectAnomalies(runs, s.anomalySigma)...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(anomalies), "anomalies": anomalies})
}

// handleDrift reports schema drift across each source's run history.
// ?source= narrows to one source.
func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sources, ok := s.querySources(w, r)
	if !ok {
		return
	}

	reports := make([]*etl.DriftReport, 0)
	for _, src := range sources {
		runs, err := s.runs.ListBySource(r.Context(), src, defaultRunLimit)
		if err != nil {
			s.logger.Printf("Query runs for %s failed: %v", src, err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		reports = append(reports, etl.AnalyzeDrift(runs, s.driftThreshold)...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(reports), "drift": reports})
}

type sourceStats struct {
	Source          domain.Source `json:"source"`
	CheckpointValue string        `json:"checkpoint_value"`
	LastSuccessAt   *time.Time    `json:"last_success_at"`
	LastFailureAt   *time.Time    `json:"last_failure_at"`
	FailureReason   *string       `json:"failure_reason,omitempty"`
	LastRun         *runResponse  `json:"last_run,omitempty"`
}

// handleStats serves a per-source pipeline overview: checkpoint position and
// the most recent run.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	coins, err := s.coins.List(r.Context())
	if err != nil {
		s.logger.Printf("Query coins failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	stats := make([]sourceStats, 0, len(s.sources))
	for _, src := range sortedSources(s.sources) {
		cp, err := s.checkpoints.Read(r.Context(), src, s.sources[src])
		if err != nil {
			s.logger.Printf("Read checkpoint for %s failed: %v", src, err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		entry := sourceStats{
			Source:          src,
			CheckpointValue: cp.Value,
			LastSuccessAt:   cp.LastSuccessAt,
			LastFailureAt:   cp.LastFailureAt,
			FailureReason:   cp.FailureReason,
		}
		runs, err := s.runs.ListBySource(r.Context(), src, 1)
		if err != nil {
			s.logger.Printf("Query runs for %s failed: %v", src, err)
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if len(runs) > 0 {
			last := toRunResponse(runs[0])
			entry.LastRun = &last
		}
		stats = append(stats, entry)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"master_coins": len(coins),
		"sources":      stats,
	})
}

// querySources resolves the optional ?source= filter to the list of sources
// to analyze. Writes the error response itself on bad input.
func (s *Server) querySources(w http.ResponseWriter, r *http.Request) ([]domain.Source, bool) {
	if v := r.URL.Query().Get("source"); v != "" {
		src := domain.Source(v)
		if !src.IsValid() {
			s.writeError(w, http.StatusBadRequest, "unknown source: "+v)
			return nil, false
		}
		return []domain.Source{src}, true
	}
	return sortedSources(s.sources), true
}

func sortedSources(m map[domain.Source]domain.CheckpointType) []domain.Source {
	out := make([]domain.Source, 0, len(m))
	for src := range m {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// queryInt parses an integer query parameter, falling back to the default on
// absence or garbage.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
