package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

func TestCheckpointStore_ReadSentinel(t *testing.T) {
	s := NewCheckpointStore()
	ctx := context.Background()

	cp, err := s.Read(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cp.Value != "1970-01-01T00:00:00Z" {
		t.Errorf("Timestamp sentinel = %q", cp.Value)
	}

	cp, err = s.Read(ctx, domain.SourceCSV, domain.CheckpointRowNumber)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cp.Value != "0" {
		t.Errorf("Row number sentinel = %q", cp.Value)
	}
}

func TestCheckpointStore_AdvanceMonotonic(t *testing.T) {
	s := NewCheckpointStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Advance(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T12:00:00Z", now); err != nil {
		t.Fatalf("First advance: %v", err)
	}

	// Backward move rejected.
	err := s.Advance(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T11:00:00Z", now)
	if !errors.Is(err, storage.ErrCheckpointRegression) {
		t.Fatalf("Expected ErrCheckpointRegression, got %v", err)
	}

	// Equal value allowed (idempotent replay).
	if err := s.Advance(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp, "2024-06-01T12:00:00Z", now); err != nil {
		t.Errorf("Equal-value advance rejected: %v", err)
	}

	cp, _ := s.Read(ctx, domain.SourceCoinPaprika, domain.CheckpointTimestamp)
	if cp.Value != "2024-06-01T12:00:00Z" {
		t.Errorf("Value = %q after rejected regression", cp.Value)
	}
}

func TestCheckpointStore_RowNumberOrder(t *testing.T) {
	s := NewCheckpointStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Advance(ctx, domain.SourceCSV, domain.CheckpointRowNumber, "500", now); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	err := s.Advance(ctx, domain.SourceCSV, domain.CheckpointRowNumber, "100", now)
	if !errors.Is(err, storage.ErrCheckpointRegression) {
		t.Errorf("Expected numeric regression rejected, got %v", err)
	}
	if err := s.Advance(ctx, domain.SourceCSV, domain.CheckpointRowNumber, "1000", now); err != nil {
		t.Errorf("Forward advance rejected: %v", err)
	}
}

func TestCheckpointStore_RecordFailureKeepsValue(t *testing.T) {
	s := NewCheckpointStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Advance(ctx, domain.SourceCoinGecko, domain.CheckpointTimestamp, "2024-06-01T12:00:00Z", now); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := s.RecordFailure(ctx, domain.SourceCoinGecko, domain.CheckpointTimestamp, "upstream 500", now.Add(time.Minute)); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	cp, _ := s.Read(ctx, domain.SourceCoinGecko, domain.CheckpointTimestamp)
	if cp.Value != "2024-06-01T12:00:00Z" {
		t.Errorf("Failure moved the cursor to %q", cp.Value)
	}
	if cp.FailureReason == nil || *cp.FailureReason != "upstream 500" {
		t.Errorf("FailureReason = %v", cp.FailureReason)
	}
	if cp.LastFailureAt == nil {
		t.Error("Expected last_failure_at set")
	}
}

func TestCheckpointStore_AdvanceClearsNothingOnFailureFirst(t *testing.T) {
	s := NewCheckpointStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// Failure before any success seeds the sentinel with failure metadata.
	if err := s.RecordFailure(ctx, domain.SourceCSV, domain.CheckpointRowNumber, "file missing", now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	cp, _ := s.Read(ctx, domain.SourceCSV, domain.CheckpointRowNumber)
	if cp.Value != "0" {
		t.Errorf("Value = %q, want sentinel", cp.Value)
	}
	if cp.LastSuccessAt != nil {
		t.Error("No success yet, last_success_at must be nil")
	}
}
