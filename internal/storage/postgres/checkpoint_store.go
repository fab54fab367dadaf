package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
// One row per source; all writes are upserts keyed by source_name.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Read returns the current checkpoint for a source, or the sentinel
// checkpoint if the source has never advanced.
func (s *CheckpointStore) Read(ctx context.Context, source domain.Source, typ domain.CheckpointType) (*domain.Checkpoint, error) {
	if !source.IsValid() || !typ.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT source_name, checkpoint_type, checkpoint_value,
		       last_success_at, last_failure_at, failure_reason, updated_at
		FROM checkpoints
		WHERE source_name = $1
	`, string(source))

	var cp domain.Checkpoint
	var sourceStr, typeStr string
	err := row.Scan(&sourceStr, &typeStr, &cp.Value,
		&cp.LastSuccessAt, &cp.LastFailureAt, &cp.FailureReason, &cp.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return domain.SentinelCheckpoint(source, typ), nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	cp.SourceName = domain.Source(sourceStr)
	cp.Type = domain.CheckpointType(typeStr)
	return &cp, nil
}

// Advance moves the cursor forward. Returns ErrCheckpointRegression if the
// new value would move an ordered cursor backward.
func (s *CheckpointStore) Advance(ctx context.Context, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) error {
	return advanceCheckpoint(ctx, s.pool, source, typ, newValue, at)
}

// RecordFailure updates failure fields without touching checkpoint_value.
func (s *CheckpointStore) RecordFailure(ctx context.Context, source domain.Source, typ domain.CheckpointType, reason string, at time.Time) error {
	if !source.IsValid() || !typ.IsValid() {
		return storage.ErrInvalidInput
	}

	sentinel := domain.SentinelCheckpoint(source, typ)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (source_name, checkpoint_type, checkpoint_value,
		                         last_failure_at, failure_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (source_name) DO UPDATE
		SET last_failure_at = EXCLUDED.last_failure_at,
		    failure_reason  = EXCLUDED.failure_reason,
		    updated_at      = EXCLUDED.updated_at
	`, string(source), string(typ), sentinel.Value, at.UTC(), reason)
	if err != nil {
		return fmt.Errorf("record checkpoint failure: %w", err)
	}
	return nil
}

// advanceCheckpoint performs the monotonic compare-and-set on the given
// connection, which may be a transaction. The current row is locked for the
// duration of the check so concurrent advances serialize.
func advanceCheckpoint(ctx context.Context, db dbtx, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) error {
	if !source.IsValid() || !typ.IsValid() {
		return storage.ErrInvalidInput
	}

	var current string
	err := db.QueryRow(ctx, `
		SELECT checkpoint_value FROM checkpoints
		WHERE source_name = $1
		FOR UPDATE
	`, string(source)).Scan(&current)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("lock checkpoint: %w", err)
	}

	if err == nil && typ.Ordered() {
		cmp, cmpErr := domain.CompareValues(typ, newValue, current)
		if cmpErr != nil {
			return fmt.Errorf("compare checkpoint values: %w", cmpErr)
		}
		if cmp < 0 {
			return storage.ErrCheckpointRegression
		}
	}

	_, err = db.Exec(ctx, `
		INSERT INTO checkpoints (source_name, checkpoint_type, checkpoint_value,
		                         last_success_at, failure_reason, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $4)
		ON CONFLICT (source_name) DO UPDATE
		SET checkpoint_type  = EXCLUDED.checkpoint_type,
		    checkpoint_value = EXCLUDED.checkpoint_value,
		    last_success_at  = EXCLUDED.last_success_at,
		    failure_reason   = NULL,
		    updated_at       = EXCLUDED.updated_at
	`, string(source), string(typ), newValue, at.UTC())
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
