package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// NormalizedStore is an in-memory implementation of storage.NormalizedStore
// and storage.BatchCommitter. CommitBatch pairs the record upsert with the
// checkpoint advance under one lock, mirroring the postgres transaction.
type NormalizedStore struct {
	mu          sync.RWMutex
	records     map[domain.RecordKey]*domain.NormalizedRecord
	checkpoints *CheckpointStore
}

// NewNormalizedStore creates a new in-memory normalized record store.
// The checkpoint store may be nil if CommitBatch is not used.
func NewNormalizedStore(checkpoints *CheckpointStore) *NormalizedStore {
	return &NormalizedStore{
		records:     make(map[domain.RecordKey]*domain.NormalizedRecord),
		checkpoints: checkpoints,
	}
}

// Compile-time interface checks.
var (
	_ storage.NormalizedStore = (*NormalizedStore)(nil)
	_ storage.BatchCommitter  = (*NormalizedStore)(nil)
)

// UpsertBatch inserts or updates records keyed on (source, source_id, data_timestamp).
func (s *NormalizedStore) UpsertBatch(_ context.Context, records []*domain.NormalizedRecord) (storage.UpsertCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(records)
}

func (s *NormalizedStore) upsertLocked(records []*domain.NormalizedRecord) (storage.UpsertCounts, error) {
	var counts storage.UpsertCounts
	for _, r := range records {
		if r == nil || !r.Source.IsValid() || r.SourceID == "" {
			return storage.UpsertCounts{}, storage.ErrInvalidInput
		}
		key := r.Key()
		if _, exists := s.records[key]; exists {
			counts.Updated++
		} else {
			counts.Inserted++
		}
		copied := *r
		s.records[key] = &copied
	}
	return counts, nil
}

// CommitBatch persists the batch and advances the checkpoint atomically.
// Records are staged before the advance and published after it, so neither
// side can end up ahead of the other on failure.
func (s *NormalizedStore) CommitBatch(ctx context.Context, records []*domain.NormalizedRecord, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) (storage.UpsertCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts storage.UpsertCounts
	staged := make(map[domain.RecordKey]*domain.NormalizedRecord, len(records))
	for _, r := range records {
		if r == nil || !r.Source.IsValid() || r.SourceID == "" {
			return storage.UpsertCounts{}, storage.ErrInvalidInput
		}
		key := r.Key()
		if _, exists := s.records[key]; exists {
			counts.Updated++
		} else if _, dup := staged[key]; dup {
			counts.Updated++
		} else {
			counts.Inserted++
		}
		copied := *r
		staged[key] = &copied
	}

	if err := s.checkpoints.Advance(ctx, source, typ, newValue, at); err != nil {
		return storage.UpsertCounts{}, err
	}

	for key, r := range staged {
		s.records[key] = r
	}
	return counts, nil
}

// GetBySourceID retrieves all records for one source-local identity.
func (s *NormalizedStore) GetBySourceID(_ context.Context, source domain.Source, sourceID string) ([]*domain.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.NormalizedRecord
	for _, r := range s.records {
		if r.Source == source && r.SourceID == sourceID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// GetByMasterCoin retrieves a master coin's timeline within [start, end].
func (s *NormalizedStore) GetByMasterCoin(_ context.Context, masterCoinID int64, start, end time.Time) ([]*domain.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.NormalizedRecord
	for _, r := range s.records {
		if r.MasterCoinID == nil || *r.MasterCoinID != masterCoinID {
			continue
		}
		if r.DataTimestamp.Before(start) || r.DataTimestamp.After(end) {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	sortByTimestamp(out)
	return out, nil
}

// GetLatest retrieves the most recent record per (source, source_id).
func (s *NormalizedStore) GetLatest(_ context.Context, source *domain.Source, symbol *string, limit int) ([]*domain.NormalizedRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*domain.NormalizedRecord)
	for _, r := range s.records {
		if source != nil && r.Source != *source {
			continue
		}
		if symbol != nil && !strings.EqualFold(r.Symbol, *symbol) {
			continue
		}
		k := string(r.Source) + "/" + r.SourceID
		if prev, ok := latest[k]; !ok || r.DataTimestamp.After(prev.DataTimestamp) {
			latest[k] = r
		}
	}

	out := make([]*domain.NormalizedRecord, 0, len(latest))
	for _, r := range latest {
		copied := *r
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].SourceID < out[j].SourceID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByTimestamp(records []*domain.NormalizedRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].DataTimestamp.Equal(records[j].DataTimestamp) {
			return records[i].DataTimestamp.Before(records[j].DataTimestamp)
		}
		return records[i].Source < records[j].Source
	})
}
