package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[domain.Source]*domain.Checkpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[domain.Source]*domain.Checkpoint),
	}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Read returns the current checkpoint or the sentinel if never advanced.
func (s *CheckpointStore) Read(_ context.Context, source domain.Source, typ domain.CheckpointType) (*domain.Checkpoint, error) {
	if !source.IsValid() || !typ.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[source]
	if !ok {
		return domain.SentinelCheckpoint(source, typ), nil
	}
	copied := *cp
	return &copied, nil
}

// Advance moves the cursor forward, rejecting regressions on ordered types.
func (s *CheckpointStore) Advance(_ context.Context, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) error {
	if !source.IsValid() || !typ.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cp, ok := s.checkpoints[source]; ok && typ.Ordered() {
		cmp, err := domain.CompareValues(typ, newValue, cp.Value)
		if err != nil {
			return err
		}
		if cmp < 0 {
			return storage.ErrCheckpointRegression
		}
	}

	at = at.UTC()
	prev := s.checkpoints[source]
	cp := &domain.Checkpoint{
		SourceName:    source,
		Type:          typ,
		Value:         newValue,
		LastSuccessAt: &at,
		UpdatedAt:     at,
	}
	if prev != nil {
		cp.LastFailureAt = prev.LastFailureAt
	}
	s.checkpoints[source] = cp
	return nil
}

// RecordFailure updates failure fields without touching checkpoint_value.
func (s *CheckpointStore) RecordFailure(_ context.Context, source domain.Source, typ domain.CheckpointType, reason string, at time.Time) error {
	if !source.IsValid() || !typ.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	cp, ok := s.checkpoints[source]
	if !ok {
		cp = domain.SentinelCheckpoint(source, typ)
		s.checkpoints[source] = cp
	}
	cp.LastFailureAt = &at
	cp.FailureReason = &reason
	cp.UpdatedAt = at
	return nil
}
