// Package etl drives ingestion runs: fetch, archive, normalize, resolve,
// commit. It owns the run ledger and is the only writer of checkpoints.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/normalization"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/observability"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/resolution"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// maxBatchesPerRun bounds one run so a misbehaving adapter cannot spin
// forever on HasMore.
const defaultMaxBatches = 100

// closeTimeout bounds the terminal-state writes of an aborted run.
const closeTimeout = 10 * time.Second

// Orchestrator executes ingestion runs for registered sources.
// One run per source at a time, enforced by the run store. A run commits
// each batch and its checkpoint atomically, so a crash mid-run loses at most
// the in-flight batch and a rerun replays it idempotently.
type Orchestrator struct {
	runs        storage.RunStore
	raw         storage.RawRecordStore
	checkpoints storage.CheckpointStore
	committer   storage.BatchCommitter
	resolver    *resolution.Resolver
	metrics     *observability.Metrics
	logger      *log.Logger
	maxBatches  int
	now         func() time.Time
	newRunID    func() string
}

// Options configures an Orchestrator.
type Options struct {
	Runs        storage.RunStore
	Raw         storage.RawRecordStore
	Checkpoints storage.CheckpointStore
	Committer   storage.BatchCommitter
	Resolver    *resolution.Resolver

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics

	// MaxBatches caps pages per run. Default 100.
	MaxBatches int

	Logger *log.Logger
	Now    func() time.Time // test hook
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	maxBatches := opts.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		runs:        opts.Runs,
		raw:         opts.Raw,
		checkpoints: opts.Checkpoints,
		committer:   opts.Committer,
		resolver:    opts.Resolver,
		metrics:     opts.Metrics,
		logger:      logger,
		maxBatches:  maxBatches,
		now:         now,
		newRunID:    uuid.NewString,
	}
}

// RunSource executes one full ingestion run for the adapter's source and
// returns the closed run. The returned error is non-nil when the run failed;
// the run ledger records the same outcome either way.
func (o *Orchestrator) RunSource(ctx context.Context, adapter ingestion.SourceAdapter) (*domain.Run, error) {
	source := adapter.Source()
	typ := adapter.CheckpointType()

	run := &domain.Run{
		RunID:      o.newRunID(),
		SourceName: source,
		Status:     domain.RunRunning,
		StartedAt:  o.now().UTC(),
	}
	if err := o.runs.Begin(ctx, run); err != nil {
		if errors.Is(err, storage.ErrRunActive) {
			o.logger.Printf("Skipping %s: a run is already active", source)
		}
		return nil, fmt.Errorf("begin run for %s: %w", source, err)
	}
	o.logger.Printf("Run %s started for %s", run.RunID, source)

	schemaFields := make(map[string]struct{})
	err := o.ingest(ctx, adapter, run, schemaFields)

	run.SchemaFields = sortedFields(schemaFields)
	if err != nil {
		return run, o.closeRun(ctx, run, typ, err)
	}
	return run, o.closeRun(ctx, run, typ, nil)
}

// ingest runs the fetch-normalize-resolve-commit loop, accumulating counts
// on the run.
func (o *Orchestrator) ingest(ctx context.Context, adapter ingestion.SourceAdapter, run *domain.Run, schemaFields map[string]struct{}) error {
	source := adapter.Source()
	typ := adapter.CheckpointType()

	cp, err := o.checkpoints.Read(ctx, source, typ)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	cursor := cp.Value

	for batch := 0; batch < o.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}

		page, err := adapter.FetchSince(ctx, cursor)
		if err != nil {
			return fmt.Errorf("fetch from %s: %w", source, err)
		}

		run.RecordsFetched += len(page.Records)
		if o.metrics != nil {
			o.metrics.RecordsFetched(source.String(), len(page.Records))
		}

		if len(page.Records) > 0 {
			if _, err := o.raw.Archive(ctx, page.Records); err != nil {
				return fmt.Errorf("archive raw records: %w", err)
			}
		}

		normalized, err := o.processBatch(ctx, page.Records, run, schemaFields)
		if err != nil {
			return err
		}

		counts, err := o.committer.CommitBatch(ctx, normalized, source, typ, page.NextCursor, o.now().UTC())
		if err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		run.RecordsProcessed += counts.Total()
		if o.metrics != nil {
			o.metrics.RecordsProcessed(source.String(), counts.Total())
		}

		cursor = page.NextCursor
		if !page.HasMore {
			return nil
		}
	}
	return fmt.Errorf("source %s still has more after %d batches", source, o.maxBatches)
}

// processBatch normalizes and resolves one page of raw records.
// A malformed record is dropped and counted, never the whole batch; ambiguous
// entity matches keep the record and leave it unresolved. Any other
// resolution error is infrastructure, not data, and fails the run before the
// checkpoint can move past the record.
func (o *Orchestrator) processBatch(ctx context.Context, raws []*domain.RawRecord, run *domain.Run, schemaFields map[string]struct{}) ([]*domain.NormalizedRecord, error) {
	ingestedAt := o.now().UTC()
	normalized := make([]*domain.NormalizedRecord, 0, len(raws))
	failed := 0

	flush := func() {
		run.RecordsFailed += failed
		if failed > 0 && o.metrics != nil {
			o.metrics.RecordsFailed(run.SourceName.String(), failed)
		}
	}

	for _, raw := range raws {
		for field := range raw.Payload {
			schemaFields[field] = struct{}{}
		}

		rec, err := normalization.Normalize(raw)
		if err != nil {
			var verr *normalization.ValidationError
			if !errors.As(err, &verr) {
				flush()
				return nil, fmt.Errorf("normalize record: %w", err)
			}
			failed++
			o.logger.Printf("Run %s: dropping record: %v", run.RunID, err)
			continue
		}
		rec.IngestedAt = ingestedAt

		if err := o.resolver.Resolve(ctx, rec); err != nil {
			if !errors.Is(err, resolution.ErrAmbiguousMatch) {
				flush()
				return nil, fmt.Errorf("resolve %s/%s: %w", rec.Source, rec.SourceID, err)
			}
			// Persisted unresolved; review resolves it later.
		}
		normalized = append(normalized, rec)
	}

	flush()
	return normalized, nil
}

// closeRun finalizes the run ledger entry and, on failure, records the
// failure on the checkpoint without moving the cursor. Terminal-state writes
// use a context detached from the run's cancellation: an aborted run must
// still reach a terminal status in storage, or its source stays locked by
// the single-active-run constraint.
func (o *Orchestrator) closeRun(ctx context.Context, run *domain.Run, typ domain.CheckpointType, runErr error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	completedAt := o.now().UTC()
	duration := completedAt.Sub(run.StartedAt).Seconds()
	run.CompletedAt = &completedAt
	run.DurationSeconds = &duration

	if runErr != nil {
		run.Status = domain.RunFailed
		msg := runErr.Error()
		run.ErrorMessage = &msg

		if err := o.checkpoints.RecordFailure(ctx, run.SourceName, typ, msg, completedAt); err != nil {
			o.logger.Printf("Run %s: failed to record checkpoint failure: %v", run.RunID, err)
		}
	} else {
		run.Status = domain.RunSuccess
	}

	if err := o.runs.Close(ctx, run); err != nil {
		o.logger.Printf("Run %s: failed to close: %v", run.RunID, err)
		if runErr == nil {
			return fmt.Errorf("close run: %w", err)
		}
	}

	if o.metrics != nil {
		o.metrics.RunCompleted(run.SourceName.String(), string(run.Status), duration)
	}

	if runErr != nil {
		o.logger.Printf("Run %s for %s failed after %.2fs: %v", run.RunID, run.SourceName, duration, runErr)
		return runErr
	}
	o.logger.Printf("Run %s for %s succeeded in %.2fs: %d fetched, %d processed, %d failed",
		run.RunID, run.SourceName, duration, run.RecordsFetched, run.RecordsProcessed, run.RecordsFailed)
	return nil
}

func sortedFields(set map[string]struct{}) []string {
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
