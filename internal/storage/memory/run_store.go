package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.Run
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.Run)}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Begin records a run in the running state. Returns ErrRunActive if the
// source already has a running run.
func (s *RunStore) Begin(_ context.Context, run *domain.Run) error {
	if run == nil || run.RunID == "" || !run.SourceName.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, r := range s.runs {
		if r.SourceName == run.SourceName && r.Status == domain.RunRunning {
			return storage.ErrRunActive
		}
	}

	run.Status = domain.RunRunning
	copied := cloneRun(run)
	s.runs[run.RunID] = copied
	return nil
}

// Close transitions a run to its terminal state exactly once.
func (s *RunStore) Close(_ context.Context, run *domain.Run) error {
	if run == nil || run.RunID == "" || !run.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.RunID]
	if !ok {
		return storage.ErrNotFound
	}
	if existing.Status.IsTerminal() {
		return storage.ErrRunClosed
	}

	s.runs[run.RunID] = cloneRun(run)
	return nil
}

// GetByID retrieves a run.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRun(r), nil
}

// ListBySource retrieves runs for a source, newest first.
func (s *RunStore) ListBySource(_ context.Context, source domain.Source, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Run
	for _, r := range s.runs {
		if r.SourceName == source {
			out = append(out, cloneRun(r))
		}
	}
	sortRunsNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSince retrieves all runs started at or after the cutoff, newest first.
func (s *RunStore) ListSince(_ context.Context, cutoff time.Time) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Run
	for _, r := range s.runs {
		if !r.StartedAt.Before(cutoff) {
			out = append(out, cloneRun(r))
		}
	}
	sortRunsNewestFirst(out)
	return out, nil
}

func sortRunsNewestFirst(runs []*domain.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID > runs[j].RunID
	})
}

func cloneRun(r *domain.Run) *domain.Run {
	copied := *r
	if r.SchemaFields != nil {
		copied.SchemaFields = append([]string(nil), r.SchemaFields...)
	}
	return &copied
}
