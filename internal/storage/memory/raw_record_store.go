package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// RawRecordStore is an in-memory implementation of storage.RawRecordStore.
type RawRecordStore struct {
	mu      sync.RWMutex
	records map[domain.RecordKey]*domain.RawRecord
}

// NewRawRecordStore creates a new in-memory raw record store.
func NewRawRecordStore() *RawRecordStore {
	return &RawRecordStore{records: make(map[domain.RecordKey]*domain.RawRecord)}
}

// Compile-time interface check.
var _ storage.RawRecordStore = (*RawRecordStore)(nil)

// Archive stores raw records, skipping ones already present.
func (s *RawRecordStore) Archive(_ context.Context, records []*domain.RawRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := 0
	for _, r := range records {
		if r == nil || !r.Source.IsValid() || r.SourceID == "" {
			return stored, storage.ErrInvalidInput
		}
		key := domain.RecordKey{Source: r.Source, SourceID: r.SourceID, DataTimestamp: r.DataTimestamp.UTC()}
		if _, exists := s.records[key]; exists {
			continue
		}
		copied := *r
		s.records[key] = &copied
		stored++
	}
	return stored, nil
}

// GetBySource retrieves archived records for a source, newest first.
func (s *RawRecordStore) GetBySource(_ context.Context, source domain.Source, limit int) ([]*domain.RawRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RawRecord
	for _, r := range s.records {
		if r.Source == source {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DataTimestamp.Equal(out[j].DataTimestamp) {
			return out[i].DataTimestamp.After(out[j].DataTimestamp)
		}
		return out[i].SourceID < out[j].SourceID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
