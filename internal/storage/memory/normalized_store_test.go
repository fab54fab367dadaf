package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

func normalizedRecord(source domain.Source, sourceID string, ts time.Time, price string) *domain.NormalizedRecord {
	return &domain.NormalizedRecord{
		Source:        source,
		SourceID:      sourceID,
		Symbol:        "BTC",
		Name:          "Bitcoin",
		PriceUSD:      decimal.NullDecimal{Decimal: decimal.RequireFromString(price), Valid: true},
		DataTimestamp: ts,
		IngestedAt:    ts,
	}
}

func TestNormalizedStore_UpsertIdempotent(t *testing.T) {
	s := NewNormalizedStore(nil)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts, "100")
	counts, err := s.UpsertBatch(ctx, []*domain.NormalizedRecord{rec})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if counts.Inserted != 1 || counts.Updated != 0 {
		t.Errorf("First upsert: %+v", counts)
	}

	// Same key, changed value: last write wins, no duplicate row.
	rec2 := normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts, "105")
	counts, err = s.UpsertBatch(ctx, []*domain.NormalizedRecord{rec2})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if counts.Inserted != 0 || counts.Updated != 1 {
		t.Errorf("Second upsert: %+v", counts)
	}

	rows, err := s.GetBySourceID(ctx, domain.SourceCoinPaprika, "btc-bitcoin")
	if err != nil {
		t.Fatalf("GetBySourceID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if !rows[0].PriceUSD.Decimal.Equal(decimal.RequireFromString("105")) {
		t.Errorf("Expected last write to win, got %v", rows[0].PriceUSD.Decimal)
	}
}

func TestNormalizedStore_DistinctTimestampsAccumulate(t *testing.T) {
	s := NewNormalizedStore(nil)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	batch := []*domain.NormalizedRecord{
		normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts, "100"),
		normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts.Add(time.Hour), "101"),
	}
	if _, err := s.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	rows, _ := s.GetBySourceID(ctx, domain.SourceCoinPaprika, "btc-bitcoin")
	if len(rows) != 2 {
		t.Fatalf("Expected timeline of 2, got %d", len(rows))
	}
	if !rows[0].DataTimestamp.Before(rows[1].DataTimestamp) {
		t.Error("Expected ascending data_timestamp order")
	}
}

func TestNormalizedStore_CommitBatchAtomicWithCheckpoint(t *testing.T) {
	checkpoints := NewCheckpointStore()
	s := NewNormalizedStore(checkpoints)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts, "100")
	counts, err := s.CommitBatch(ctx, []*domain.NormalizedRecord{rec},
		domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T12:00:00Z", ts)
	if err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}
	if counts.Total() != 1 {
		t.Errorf("Counts: %+v", counts)
	}

	cp, _ := checkpoints.Read(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.Value != "2024-06-01T12:00:00Z" {
		t.Errorf("Checkpoint = %q", cp.Value)
	}
}

func TestNormalizedStore_CommitBatchRegressionWritesNothing(t *testing.T) {
	checkpoints := NewCheckpointStore()
	s := NewNormalizedStore(checkpoints)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := checkpoints.Advance(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T12:00:00Z", ts); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	rec := normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts, "100")
	_, err := s.CommitBatch(ctx, []*domain.NormalizedRecord{rec},
		domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T11:00:00Z", ts)
	if !errors.Is(err, storage.ErrCheckpointRegression) {
		t.Fatalf("Expected ErrCheckpointRegression, got %v", err)
	}

	rows, _ := s.GetBySourceID(ctx, domain.SourceCoinPaprika, "btc-bitcoin")
	if len(rows) != 0 {
		t.Errorf("Regression persisted %d records", len(rows))
	}
}

func TestNormalizedStore_CommitBatchBadRecordLeavesCheckpoint(t *testing.T) {
	checkpoints := NewCheckpointStore()
	s := NewNormalizedStore(checkpoints)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	bad := normalizedRecord(domain.SourceCoinPaprika, "", ts, "100")
	_, err := s.CommitBatch(ctx, []*domain.NormalizedRecord{bad},
		domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T12:00:00Z", ts)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("Expected ErrInvalidInput, got %v", err)
	}

	// A failed upsert must not leave the checkpoint ahead of persisted data.
	cp, _ := checkpoints.Read(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	sentinel := domain.SentinelCheckpoint(domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.Value != sentinel.Value {
		t.Errorf("Checkpoint advanced on failed upsert: %q", cp.Value)
	}
}

func TestNormalizedStore_GetLatestFilters(t *testing.T) {
	s := NewNormalizedStore(nil)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	eth := normalizedRecord(domain.SourceCoinGecko, "ethereum", ts, "2280")
	eth.Symbol = "ETH"
	batch := []*domain.NormalizedRecord{
		normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts, "100"),
		normalizedRecord(domain.SourceCoinPaprika, "btc-bitcoin", ts.Add(time.Hour), "105"),
		normalizedRecord(domain.SourceCoinGecko, "bitcoin", ts, "101"),
		eth,
	}
	if _, err := s.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	// No filters: one latest row per (source, source_id).
	all, err := s.GetLatest(ctx, nil, nil, 10)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 identities, got %d", len(all))
	}

	src := domain.SourceCoinPaprika
	paprika, _ := s.GetLatest(ctx, &src, nil, 10)
	if len(paprika) != 1 {
		t.Fatalf("Source filter: got %d", len(paprika))
	}
	if !paprika[0].PriceUSD.Decimal.Equal(decimal.RequireFromString("105")) {
		t.Errorf("Expected newest row per identity, got %v", paprika[0].PriceUSD.Decimal)
	}

	symbol := "eth"
	bySymbol, _ := s.GetLatest(ctx, nil, &symbol, 10)
	if len(bySymbol) != 1 || bySymbol[0].SourceID != "ethereum" {
		t.Errorf("Case-insensitive symbol filter: %+v", bySymbol)
	}
}
