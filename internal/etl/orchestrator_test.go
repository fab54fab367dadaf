package etl

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion/stub"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/resolution"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage/memory"
)

type testEnv struct {
	orchestrator *Orchestrator
	checkpoints  *memory.CheckpointStore
	normalized   *memory.NormalizedStore
	runs         *memory.RunStore
	raw          *memory.RawRecordStore
	coins        *memory.MasterCoinStore
}

func newTestEnv() *testEnv {
	logger := log.New(io.Discard, "", 0)
	checkpoints := memory.NewCheckpointStore()
	normalized := memory.NewNormalizedStore(checkpoints)
	runs := memory.NewRunStore()
	raw := memory.NewRawRecordStore()
	coins := memory.NewMasterCoinStore()
	mappings := memory.NewMappingStore()

	resolver := resolution.New(resolution.Options{
		Coins:    coins,
		Mappings: mappings,
		Logger:   logger,
	})
	orchestrator := New(Options{
		Runs:        runs,
		Raw:         raw,
		Checkpoints: checkpoints,
		Committer:   normalized,
		Resolver:    resolver,
		Logger:      logger,
	})
	return &testEnv{
		orchestrator: orchestrator,
		checkpoints:  checkpoints,
		normalized:   normalized,
		runs:         runs,
		raw:          raw,
		coins:        coins,
	}
}

var dataTS = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func paprikaRaw(sourceID, symbol, name, price string) *domain.RawRecord {
	return &domain.RawRecord{
		Source:        domain.SourceCoinPaprika,
		SourceID:      sourceID,
		DataTimestamp: dataTS,
		FetchedAt:     dataTS,
		Payload: map[string]any{
			"coin_id":   sourceID,
			"symbol":    symbol,
			"name":      name,
			"price_usd": price,
		},
	}
}

func TestRunSource_Success(t *testing.T) {
	env := newTestEnv()
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	adapter.Enqueue(&ingestion.Page{
		Records: []*domain.RawRecord{
			paprikaRaw("btc-bitcoin", "BTC", "Bitcoin", "43250.75"),
			paprikaRaw("eth-ethereum", "ETH", "Ethereum", "2280.10"),
		},
		NextCursor: "2024-06-01T12:00:00Z",
	})

	run, err := env.orchestrator.RunSource(context.Background(), adapter)
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}

	if run.Status != domain.RunSuccess {
		t.Errorf("Expected success, got %s (%v)", run.Status, run.ErrorMessage)
	}
	if run.RecordsFetched != 2 || run.RecordsProcessed != 2 || run.RecordsFailed != 0 {
		t.Errorf("Counts: fetched=%d processed=%d failed=%d", run.RecordsFetched, run.RecordsProcessed, run.RecordsFailed)
	}
	if run.CompletedAt == nil || run.DurationSeconds == nil {
		t.Error("Expected completion metadata on closed run")
	}

	cp, err := env.checkpoints.Read(context.Background(), domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if err != nil {
		t.Fatalf("Read checkpoint: %v", err)
	}
	if cp.Value != "2024-06-01T12:00:00Z" {
		t.Errorf("Expected checkpoint advanced, got %q", cp.Value)
	}
	if cp.LastSuccessAt == nil {
		t.Error("Expected last_success_at set")
	}

	// Raw payloads archived, both records resolved to master coins.
	archived, err := env.raw.GetBySource(context.Background(), domain.SourceCoinPaprika, 10)
	if err != nil {
		t.Fatalf("GetBySource: %v", err)
	}
	if len(archived) != 2 {
		t.Errorf("Expected 2 archived raw records, got %d", len(archived))
	}
	coins, err := env.coins.List(context.Background())
	if err != nil {
		t.Fatalf("List coins: %v", err)
	}
	if len(coins) != 2 {
		t.Errorf("Expected 2 discovered coins, got %d", len(coins))
	}
}

func TestRunSource_SchemaFieldsCaptured(t *testing.T) {
	env := newTestEnv()
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	adapter.Enqueue(&ingestion.Page{
		Records:    []*domain.RawRecord{paprikaRaw("btc-bitcoin", "BTC", "Bitcoin", "1")},
		NextCursor: "2024-06-01T12:00:00Z",
	})

	run, err := env.orchestrator.RunSource(context.Background(), adapter)
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}

	want := []string{"coin_id", "name", "price_usd", "symbol"}
	if len(run.SchemaFields) != len(want) {
		t.Fatalf("SchemaFields = %v, want %v", run.SchemaFields, want)
	}
	for i, f := range want {
		if run.SchemaFields[i] != f {
			t.Errorf("SchemaFields[%d] = %q, want %q (sorted)", i, run.SchemaFields[i], f)
		}
	}
}

func TestRunSource_Pagination(t *testing.T) {
	env := newTestEnv()
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	adapter.Enqueue(&ingestion.Page{
		Records:    []*domain.RawRecord{paprikaRaw("btc-bitcoin", "BTC", "Bitcoin", "1")},
		NextCursor: "2024-06-01T12:00:00Z",
		HasMore:    true,
	})
	adapter.Enqueue(&ingestion.Page{
		Records:    []*domain.RawRecord{paprikaRaw("eth-ethereum", "ETH", "Ethereum", "2")},
		NextCursor: "2024-06-01T13:00:00Z",
	})

	run, err := env.orchestrator.RunSource(context.Background(), adapter)
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if run.RecordsProcessed != 2 {
		t.Errorf("Expected 2 processed across pages, got %d", run.RecordsProcessed)
	}

	// Second fetch must resume from the first page's cursor.
	if len(adapter.Calls) != 2 {
		t.Fatalf("Expected 2 fetches, got %d", len(adapter.Calls))
	}
	if adapter.Calls[1] != "2024-06-01T12:00:00Z" {
		t.Errorf("Second fetch cursor = %q", adapter.Calls[1])
	}

	cp, _ := env.checkpoints.Read(context.Background(), domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.Value != "2024-06-01T13:00:00Z" {
		t.Errorf("Expected final cursor, got %q", cp.Value)
	}
}

func TestRunSource_FetchFailureLeavesCheckpoint(t *testing.T) {
	env := newTestEnv()
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	adapter.FailNext(errors.New("upstream 500"))

	run, err := env.orchestrator.RunSource(context.Background(), adapter)
	if err == nil {
		t.Fatal("Expected run failure")
	}
	if run.Status != domain.RunFailed {
		t.Errorf("Expected failed status, got %s", run.Status)
	}
	if run.ErrorMessage == nil {
		t.Error("Expected error message on failed run")
	}

	cp, readErr := env.checkpoints.Read(context.Background(), domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if readErr != nil {
		t.Fatalf("Read checkpoint: %v", readErr)
	}
	sentinel := domain.SentinelCheckpoint(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.Value != sentinel.Value {
		t.Errorf("Checkpoint moved on failure: %q", cp.Value)
	}
	if cp.FailureReason == nil {
		t.Error("Expected failure reason recorded")
	}

	// The ledger keeps the failed run.
	stored, getErr := env.runs.GetByID(context.Background(), run.RunID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if stored.Status != domain.RunFailed {
		t.Errorf("Ledger status = %s", stored.Status)
	}
}

func TestRunSource_PartialFailureIsolation(t *testing.T) {
	env := newTestEnv()
	bad := &domain.RawRecord{
		Source:        domain.SourceCoinPaprika,
		SourceID:      "bad-record",
		DataTimestamp: dataTS,
		Payload:       map[string]any{"coin_id": "bad-record", "name": "No Symbol"},
	}
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	adapter.Enqueue(&ingestion.Page{
		Records: []*domain.RawRecord{
			paprikaRaw("btc-bitcoin", "BTC", "Bitcoin", "1"),
			bad,
		},
		NextCursor: "2024-06-01T12:00:00Z",
	})

	run, err := env.orchestrator.RunSource(context.Background(), adapter)
	if err != nil {
		t.Fatalf("One bad record must not fail the run: %v", err)
	}
	if run.Status != domain.RunSuccess {
		t.Errorf("Expected success, got %s", run.Status)
	}
	if run.RecordsProcessed != 1 || run.RecordsFailed != 1 {
		t.Errorf("Counts: processed=%d failed=%d, want 1/1", run.RecordsProcessed, run.RecordsFailed)
	}
}

func TestRunSource_IdempotentReplay(t *testing.T) {
	env := newTestEnv()
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	page := func() *ingestion.Page {
		return &ingestion.Page{
			Records:    []*domain.RawRecord{paprikaRaw("btc-bitcoin", "BTC", "Bitcoin", "43250.75")},
			NextCursor: "2024-06-01T12:00:00Z",
		}
	}
	adapter.Enqueue(page())
	adapter.Enqueue(page())

	for i := 0; i < 2; i++ {
		if _, err := env.orchestrator.RunSource(context.Background(), adapter); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	records, err := env.normalized.GetBySourceID(context.Background(), domain.SourceCoinPaprika, "btc-bitcoin")
	if err != nil {
		t.Fatalf("GetBySourceID: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Replay created duplicates: %d rows", len(records))
	}
}

func TestRunSource_SingleActiveRun(t *testing.T) {
	env := newTestEnv()
	blocker := &domain.Run{
		RunID:      "blocker",
		SourceName: domain.SourceCoinPaprika,
		StartedAt:  time.Now().UTC(),
	}
	if err := env.runs.Begin(context.Background(), blocker); err != nil {
		t.Fatalf("Begin blocker run: %v", err)
	}

	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	_, err := env.orchestrator.RunSource(context.Background(), adapter)
	if !errors.Is(err, storage.ErrRunActive) {
		t.Fatalf("Expected ErrRunActive, got %v", err)
	}
}

// ctxAwareRunStore refuses writes on a done context, as a real driver would.
type ctxAwareRunStore struct{ storage.RunStore }

func (s *ctxAwareRunStore) Begin(ctx context.Context, run *domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.RunStore.Begin(ctx, run)
}

func (s *ctxAwareRunStore) Close(ctx context.Context, run *domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.RunStore.Close(ctx, run)
}

type ctxAwareCheckpointStore struct{ storage.CheckpointStore }

func (s *ctxAwareCheckpointStore) RecordFailure(ctx context.Context, source domain.Source, typ domain.CheckpointType, reason string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.CheckpointStore.RecordFailure(ctx, source, typ, reason, at)
}

// cancellingAdapter cancels the run's context during the fetch, the shape of
// a process shutdown landing mid-run.
type cancellingAdapter struct {
	cancel context.CancelFunc
}

func (a *cancellingAdapter) Source() domain.Source                 { return domain.SourceCoinPaprika }
func (a *cancellingAdapter) CheckpointType() domain.CheckpointType { return domain.CheckpointTimestamp }

func (a *cancellingAdapter) FetchSince(ctx context.Context, _ string) (*ingestion.Page, error) {
	a.cancel()
	return nil, ctx.Err()
}

func TestRunSource_AbortedRunStillClosesInStorage(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	checkpoints := memory.NewCheckpointStore()
	runs := memory.NewRunStore()
	resolver := resolution.New(resolution.Options{
		Coins:    memory.NewMasterCoinStore(),
		Mappings: memory.NewMappingStore(),
		Logger:   logger,
	})
	orchestrator := New(Options{
		Runs:        &ctxAwareRunStore{runs},
		Raw:         memory.NewRawRecordStore(),
		Checkpoints: &ctxAwareCheckpointStore{checkpoints},
		Committer:   memory.NewNormalizedStore(checkpoints),
		Resolver:    resolver,
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := orchestrator.RunSource(ctx, &cancellingAdapter{cancel: cancel})
	if err == nil {
		t.Fatal("Expected error from cancelled run")
	}
	if run.Status != domain.RunFailed {
		t.Errorf("Expected failed status, got %s", run.Status)
	}

	// The ledger row must reach a terminal state even though the run's
	// context is dead by the time the run is finalized.
	stored, getErr := runs.GetByID(context.Background(), run.RunID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if stored.Status != domain.RunFailed {
		t.Errorf("Ledger status = %s, want failed", stored.Status)
	}
	cp, _ := checkpoints.Read(context.Background(), domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.FailureReason == nil {
		t.Error("Expected failure reason recorded despite cancellation")
	}

	// The source must not stay locked behind the aborted run.
	next := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	next.Enqueue(&ingestion.Page{NextCursor: "2024-06-01T12:00:00Z"})
	if _, err := orchestrator.RunSource(context.Background(), next); err != nil {
		t.Fatalf("Source still blocked after aborted run: %v", err)
	}
}

// failingMappingStore fails lookups the way a database outage would.
type failingMappingStore struct{ storage.MappingStore }

func (s *failingMappingStore) Get(context.Context, domain.Source, string) (*domain.SourceMapping, error) {
	return nil, errors.New("connection refused")
}

func TestRunSource_ResolutionStorageErrorFailsRun(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	checkpoints := memory.NewCheckpointStore()
	normalized := memory.NewNormalizedStore(checkpoints)
	runs := memory.NewRunStore()
	resolver := resolution.New(resolution.Options{
		Coins:    memory.NewMasterCoinStore(),
		Mappings: &failingMappingStore{memory.NewMappingStore()},
		Logger:   logger,
	})
	orchestrator := New(Options{
		Runs:        runs,
		Raw:         memory.NewRawRecordStore(),
		Checkpoints: checkpoints,
		Committer:   normalized,
		Resolver:    resolver,
		Logger:      logger,
	})

	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	adapter.Enqueue(&ingestion.Page{
		Records:    []*domain.RawRecord{paprikaRaw("btc-bitcoin", "BTC", "Bitcoin", "1")},
		NextCursor: "2024-06-01T12:00:00Z",
	})

	run, err := orchestrator.RunSource(context.Background(), adapter)
	if err == nil {
		t.Fatal("Expected run failure on storage outage during resolution")
	}
	if run.Status != domain.RunFailed {
		t.Errorf("Expected failed status, got %s", run.Status)
	}
	if run.RecordsFailed != 0 {
		t.Errorf("Infrastructure fault counted as a record failure: failed=%d", run.RecordsFailed)
	}

	// Checkpoint untouched and nothing persisted, so a rerun replays the
	// record instead of losing it.
	cp, _ := checkpoints.Read(context.Background(), domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	sentinel := domain.SentinelCheckpoint(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.Value != sentinel.Value {
		t.Errorf("Checkpoint advanced past an unpersisted record: %q", cp.Value)
	}
	records, _ := normalized.GetBySourceID(context.Background(), domain.SourceCoinPaprika, "btc-bitcoin")
	if len(records) != 0 {
		t.Errorf("Expected no persisted records, got %d", len(records))
	}
}

func TestRunSource_ContextCancelledFailsRun(t *testing.T) {
	env := newTestEnv()
	adapter := stub.New(domain.SourceCoinPaprika, domain.CheckpointTimestamp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := env.orchestrator.RunSource(ctx, adapter)
	if err == nil {
		t.Fatal("Expected error on cancelled context")
	}
	if run == nil || run.Status != domain.RunFailed {
		t.Errorf("Expected failed run, got %+v", run)
	}
}
