package etl

import (
	"sort"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// defaultDriftThreshold is the Jaccard similarity below which two consecutive
// field sets count as drifted.
const defaultDriftThreshold = 0.9

// DriftReport describes a schema change between two consecutive runs of the
// same source.
type DriftReport struct {
	Source     domain.Source `json:"source"`
	PrevRunID  string        `json:"prev_run_id"`
	CurrRunID  string        `json:"curr_run_id"`
	Added      []string      `json:"added_fields"`
	Removed    []string      `json:"removed_fields"`
	Similarity float64       `json:"similarity"`
}

// DetectDrift compares the field sets of two runs of the same source.
// Returns nil when the sets are similar enough, ordered prev then curr.
// Runs that saw no records are skipped; an empty fetch says nothing about
// the schema.
func DetectDrift(prev, curr *domain.Run, threshold float64) *DriftReport {
	if threshold <= 0 {
		threshold = defaultDriftThreshold
	}
	if prev == nil || curr == nil || len(prev.SchemaFields) == 0 || len(curr.SchemaFields) == 0 {
		return nil
	}

	prevSet := fieldSet(prev.SchemaFields)
	currSet := fieldSet(curr.SchemaFields)

	var added, removed []string
	intersection := 0
	for f := range currSet {
		if _, ok := prevSet[f]; ok {
			intersection++
		} else {
			added = append(added, f)
		}
	}
	for f := range prevSet {
		if _, ok := currSet[f]; !ok {
			removed = append(removed, f)
		}
	}

	union := len(prevSet) + len(currSet) - intersection
	similarity := 1.0
	if union > 0 {
		similarity = float64(intersection) / float64(union)
	}
	if similarity >= threshold {
		return nil
	}

	sort.Strings(added)
	sort.Strings(removed)
	return &DriftReport{
		Source:     curr.SourceName,
		PrevRunID:  prev.RunID,
		CurrRunID:  curr.RunID,
		Added:      added,
		Removed:    removed,
		Similarity: similarity,
	}
}

// AnalyzeDrift walks a source's run history, newest first as the run store
// returns it, and reports every consecutive pair that drifted.
func AnalyzeDrift(runs []*domain.Run, threshold float64) []*DriftReport {
	var reports []*DriftReport
	for i := len(runs) - 1; i > 0; i-- {
		if report := DetectDrift(runs[i], runs[i-1], threshold); report != nil {
			reports = append(reports, report)
		}
	}
	return reports
}

func fieldSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
