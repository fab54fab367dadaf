package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

type mappingKey struct {
	source   domain.Source
	sourceID string
}

// MappingStore is an in-memory implementation of storage.MappingStore.
type MappingStore struct {
	mu       sync.RWMutex
	nextID   int64
	mappings map[mappingKey]*domain.SourceMapping
}

// NewMappingStore creates a new in-memory mapping store.
func NewMappingStore() *MappingStore {
	return &MappingStore{mappings: make(map[mappingKey]*domain.SourceMapping)}
}

// Compile-time interface check.
var _ storage.MappingStore = (*MappingStore)(nil)

// Get retrieves the mapping for (source, source_id).
func (s *MappingStore) Get(_ context.Context, source domain.Source, sourceID string) (*domain.SourceMapping, error) {
	if !source.IsValid() || sourceID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mappingKey{source, sourceID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

// Create inserts a new mapping. Returns ErrDuplicateKey if present.
func (s *MappingStore) Create(_ context.Context, m *domain.SourceMapping) error {
	if m == nil || !m.Source.IsValid() || m.SourceID == "" || m.MasterCoinID == 0 {
		return storage.ErrInvalidInput
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey{m.Source, m.SourceID}
	if _, exists := s.mappings[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()

	copied := *m
	s.mappings[key] = &copied
	return nil
}

// FlagForReview marks a mapping as contradicted by later evidence.
func (s *MappingStore) FlagForReview(_ context.Context, source domain.Source, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[mappingKey{source, sourceID}]
	if !ok {
		return storage.ErrNotFound
	}
	m.NeedsReview = true
	return nil
}

// ListByMasterCoin retrieves all mappings pointing at a master coin.
func (s *MappingStore) ListByMasterCoin(_ context.Context, masterCoinID int64) ([]*domain.SourceMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.SourceMapping
	for _, m := range s.mappings {
		if m.MasterCoinID == masterCoinID {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListFlagged retrieves all mappings awaiting manual review.
func (s *MappingStore) ListFlagged(_ context.Context) ([]*domain.SourceMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.SourceMapping
	for _, m := range s.mappings {
		if m.NeedsReview {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
