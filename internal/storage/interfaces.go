package storage

import (
	"context"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// UpsertCounts reports the outcome of a batch upsert.
type UpsertCounts struct {
	Inserted int
	Updated  int
}

// Total returns the number of rows touched.
func (c UpsertCounts) Total() int {
	return c.Inserted + c.Updated
}

// NormalizedStore provides access to normalized_records storage.
// Rows are unique on (source, source_id, data_timestamp); writes are upserts
// on that key, so replays are no-ops for identical payloads and
// last-write-wins for changed ones.
type NormalizedStore interface {
	// UpsertBatch inserts or updates a batch of normalized records.
	UpsertBatch(ctx context.Context, records []*domain.NormalizedRecord) (UpsertCounts, error)

	// GetBySourceID retrieves all records for one source-local identity,
	// ordered by data_timestamp ASC.
	GetBySourceID(ctx context.Context, source domain.Source, sourceID string) ([]*domain.NormalizedRecord, error)

	// GetByMasterCoin retrieves the timeline of a master coin across all
	// sources within [start, end], ordered by data_timestamp ASC.
	GetByMasterCoin(ctx context.Context, masterCoinID int64, start, end time.Time) ([]*domain.NormalizedRecord, error)

	// GetLatest retrieves the most recent record per (source, source_id),
	// optionally filtered by source and/or symbol.
	GetLatest(ctx context.Context, source *domain.Source, symbol *string, limit int) ([]*domain.NormalizedRecord, error)
}

// BatchCommitter persists a normalized batch and advances the source
// checkpoint in one atomic unit, so checkpoint progress never outruns
// persisted data.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, records []*domain.NormalizedRecord, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) (UpsertCounts, error)
}

// CheckpointStore provides the durable per-source ingestion cursor.
type CheckpointStore interface {
	// Read returns the current checkpoint for a source, or the sentinel
	// checkpoint (epoch / 0 / empty) if the source has never advanced.
	Read(ctx context.Context, source domain.Source, typ domain.CheckpointType) (*domain.Checkpoint, error)

	// Advance moves the cursor forward, sets last_success_at and clears
	// failure_reason. Returns ErrCheckpointRegression if newValue would move
	// an ordered cursor backward.
	Advance(ctx context.Context, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) error

	// RecordFailure updates last_failure_at and failure_reason without
	// touching checkpoint_value.
	RecordFailure(ctx context.Context, source domain.Source, typ domain.CheckpointType, reason string, at time.Time) error
}

// MasterCoinStore provides access to master_coins storage.
type MasterCoinStore interface {
	// Create inserts a new master coin and fills in its ID.
	// Returns ErrDuplicateKey if symbol or canonical_id already exists.
	Create(ctx context.Context, coin *domain.MasterCoin) error

	// GetByID retrieves a master coin by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id int64) (*domain.MasterCoin, error)

	// GetBySymbol retrieves a master coin by case-insensitive symbol.
	// Returns ErrNotFound if absent.
	GetBySymbol(ctx context.Context, symbol string) (*domain.MasterCoin, error)

	// List retrieves all master coins ordered by ID.
	List(ctx context.Context) ([]*domain.MasterCoin, error)

	// UpdateName reconciles a coin's name and bumps updated_at.
	UpdateName(ctx context.Context, id int64, name string, at time.Time) error
}

// MappingStore provides access to source_mappings storage.
type MappingStore interface {
	// Get retrieves the mapping for (source, source_id).
	// Returns ErrNotFound if absent.
	Get(ctx context.Context, source domain.Source, sourceID string) (*domain.SourceMapping, error)

	// Create inserts a new mapping and fills in its ID.
	// Returns ErrDuplicateKey if (source, source_id) already exists.
	Create(ctx context.Context, m *domain.SourceMapping) error

	// FlagForReview marks a mapping as contradicted by later evidence.
	FlagForReview(ctx context.Context, source domain.Source, sourceID string) error

	// ListByMasterCoin retrieves all mappings pointing at a master coin.
	ListByMasterCoin(ctx context.Context, masterCoinID int64) ([]*domain.SourceMapping, error)

	// ListFlagged retrieves all mappings awaiting manual review.
	ListFlagged(ctx context.Context) ([]*domain.SourceMapping, error)
}

// RunStore provides access to the append-only run ledger.
type RunStore interface {
	// Begin records a run in the running state. Returns ErrRunActive if the
	// source already has a running run; at most one run per source may be
	// active at a time.
	Begin(ctx context.Context, run *domain.Run) error

	// Close transitions a run to its terminal state with final counts.
	// Returns ErrRunClosed if the run is already terminal.
	Close(ctx context.Context, run *domain.Run) error

	// GetByID retrieves a run. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, runID string) (*domain.Run, error)

	// ListBySource retrieves runs for a source, newest first.
	ListBySource(ctx context.Context, source domain.Source, limit int) ([]*domain.Run, error)

	// ListSince retrieves all runs started at or after the cutoff,
	// newest first.
	ListSince(ctx context.Context, cutoff time.Time) ([]*domain.Run, error)
}

// RawRecordStore archives raw source payloads verbatim.
// Append-only: re-archiving an existing (source, source_id, data_timestamp)
// is a no-op.
type RawRecordStore interface {
	// Archive stores raw records, skipping ones already present.
	// Returns the number of newly stored records.
	Archive(ctx context.Context, records []*domain.RawRecord) (int, error)

	// GetBySource retrieves archived records for a source, newest first.
	GetBySource(ctx context.Context, source domain.Source, limit int) ([]*domain.RawRecord, error)
}
