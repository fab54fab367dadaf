package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
// A partial unique index on runs(source_name) WHERE status = 'running'
// enforces the single-active-run-per-source guarantee in storage, not in
// application logic.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Begin records a run in the running state.
func (s *RunStore) Begin(ctx context.Context, run *domain.Run) error {
	if run == nil || run.RunID == "" || !run.SourceName.IsValid() {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, source_name, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, run.RunID, string(run.SourceName), string(domain.RunRunning), run.StartedAt.UTC())
	if err != nil {
		if violatedConstraint(err) == "idx_runs_one_running" {
			return storage.ErrRunActive
		}
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}

	run.Status = domain.RunRunning
	return nil
}

// Close transitions a run to its terminal state with final counts.
// The WHERE status = 'running' clause makes closure exactly-once.
func (s *RunStore) Close(ctx context.Context, run *domain.Run) error {
	if run == nil || run.RunID == "" || !run.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	schemaFields := run.SchemaFields
	if schemaFields == nil {
		schemaFields = []string{}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status            = $2,
		    completed_at      = $3,
		    duration_seconds  = $4,
		    records_fetched   = $5,
		    records_processed = $6,
		    records_failed    = $7,
		    error_message     = $8,
		    schema_fields     = $9
		WHERE run_id = $1 AND status = $10
	`, run.RunID, string(run.Status), run.CompletedAt, run.DurationSeconds,
		run.RecordsFetched, run.RecordsProcessed, run.RecordsFailed,
		run.ErrorMessage, schemaFields, string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, getErr := s.GetByID(ctx, run.RunID)
		if getErr != nil {
			if errors.Is(getErr, storage.ErrNotFound) {
				return storage.ErrNotFound
			}
			return getErr
		}
		if existing.Status.IsTerminal() {
			return storage.ErrRunClosed
		}
		return fmt.Errorf("close run %s: no rows updated", run.RunID)
	}
	return nil
}

const runColumns = `
	run_id, source_name, status, started_at, completed_at, duration_seconds,
	records_fetched, records_processed, records_failed, error_message, schema_fields`

// GetByID retrieves a run.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE run_id = $1
	`, runID)

	r, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return r, nil
}

// ListBySource retrieves runs for a source, newest first.
func (s *RunStore) ListBySource(ctx context.Context, source domain.Source, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE source_name = $1
		ORDER BY started_at DESC, run_id DESC
		LIMIT $2
	`, string(source), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by source: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListSince retrieves all runs started at or after the cutoff, newest first.
func (s *RunStore) ListSince(ctx context.Context, cutoff time.Time) ([]*domain.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE started_at >= $1
		ORDER BY started_at DESC, run_id DESC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list runs since: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// scanRun scans a single row into a Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var r domain.Run
	var sourceStr, statusStr string

	err := row.Scan(&r.RunID, &sourceStr, &statusStr, &r.StartedAt, &r.CompletedAt,
		&r.DurationSeconds, &r.RecordsFetched, &r.RecordsProcessed, &r.RecordsFailed,
		&r.ErrorMessage, &r.SchemaFields)
	if err != nil {
		return nil, err
	}

	r.SourceName = domain.Source(sourceStr)
	r.Status = domain.RunStatus(statusStr)
	return &r, nil
}

// scanRuns scans multiple rows into runs.
func scanRuns(rows pgx.Rows) ([]*domain.Run, error) {
	var runs []*domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}
