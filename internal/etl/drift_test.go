package etl

import (
	"testing"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

func runWithFields(id string, fields ...string) *domain.Run {
	return &domain.Run{
		RunID:        id,
		SourceName:   domain.SourceCoinGecko,
		Status:       domain.RunSuccess,
		SchemaFields: fields,
	}
}

func TestDetectDrift_NoChange(t *testing.T) {
	prev := runWithFields("r1", "id", "name", "symbol", "price")
	curr := runWithFields("r2", "id", "name", "symbol", "price")
	if report := DetectDrift(prev, curr, 0.9); report != nil {
		t.Errorf("Identical field sets must not drift: %+v", report)
	}
}

func TestDetectDrift_FieldsAddedAndRemoved(t *testing.T) {
	prev := runWithFields("r1", "id", "name", "symbol", "price")
	curr := runWithFields("r2", "id", "name", "symbol", "ath", "atl")

	report := DetectDrift(prev, curr, 0.9)
	if report == nil {
		t.Fatal("Expected drift report")
	}
	if report.PrevRunID != "r1" || report.CurrRunID != "r2" {
		t.Errorf("Run IDs: %s -> %s", report.PrevRunID, report.CurrRunID)
	}
	if len(report.Added) != 2 || report.Added[0] != "ath" || report.Added[1] != "atl" {
		t.Errorf("Added = %v", report.Added)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "price" {
		t.Errorf("Removed = %v", report.Removed)
	}
	// 3 shared of 6 total.
	if report.Similarity < 0.49 || report.Similarity > 0.51 {
		t.Errorf("Similarity = %v, want 0.5", report.Similarity)
	}
}

func TestDetectDrift_SmallChangeBelowThreshold(t *testing.T) {
	prev := runWithFields("r1", "a", "b", "c", "d", "e", "f", "g", "h", "i")
	curr := runWithFields("r2", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j")
	// Jaccard 9/10 = 0.9, not below the 0.9 threshold.
	if report := DetectDrift(prev, curr, 0.9); report != nil {
		t.Errorf("Expected no drift at the threshold boundary: %+v", report)
	}
}

func TestDetectDrift_EmptyRunsSkipped(t *testing.T) {
	prev := runWithFields("r1", "id", "name")
	empty := runWithFields("r2")
	if report := DetectDrift(prev, empty, 0.9); report != nil {
		t.Error("Run with no fields must not count as drift")
	}
	if report := DetectDrift(empty, prev, 0.9); report != nil {
		t.Error("Empty predecessor must not count as drift")
	}
}

func TestAnalyzeDrift_WalksConsecutivePairs(t *testing.T) {
	// Newest first, as the run store lists them.
	runs := []*domain.Run{
		runWithFields("r3", "x", "y"),
		runWithFields("r2", "id", "name", "symbol"),
		runWithFields("r1", "id", "name", "symbol"),
	}

	reports := AnalyzeDrift(runs, 0.9)
	if len(reports) != 1 {
		t.Fatalf("Expected 1 drift report, got %d", len(reports))
	}
	if reports[0].PrevRunID != "r2" || reports[0].CurrRunID != "r3" {
		t.Errorf("Drift pair: %s -> %s", reports[0].PrevRunID, reports[0].CurrRunID)
	}
}
