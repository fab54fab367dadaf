package domain

import (
	"strconv"
	"time"
)

// Checkpoint is the durable ingestion cursor for one source.
// One row per source, unique on source_name. Mutated only by the orchestrator,
// only after a run's terminal state is known.
type Checkpoint struct {
	SourceName    Source
	Type          CheckpointType
	Value         string // opaque string interpreted per Type
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	FailureReason *string
	UpdatedAt     time.Time
}

// SentinelCheckpoint returns the initial checkpoint seeded for a source that
// has never run: epoch for timestamp cursors, zero for row counters, empty
// for opaque cursors.
func SentinelCheckpoint(source Source, typ CheckpointType) *Checkpoint {
	cp := &Checkpoint{SourceName: source, Type: typ}
	switch typ {
	case CheckpointTimestamp:
		cp.Value = time.Unix(0, 0).UTC().Format(time.RFC3339)
	case CheckpointRowNumber:
		cp.Value = "0"
	case CheckpointCursor:
		cp.Value = ""
	}
	return cp
}

// Timestamp parses the checkpoint value as an RFC3339 timestamp.
func (c *Checkpoint) Timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339, c.Value)
}

// RowNumber parses the checkpoint value as a row count.
func (c *Checkpoint) RowNumber() (int64, error) {
	return strconv.ParseInt(c.Value, 10, 64)
}

// CompareValues compares two checkpoint values of the given type.
// Returns <0 if a precedes b, 0 if equal, >0 if a follows b.
// Opaque cursors have no order and always compare equal.
func CompareValues(typ CheckpointType, a, b string) (int, error) {
	switch typ {
	case CheckpointTimestamp:
		ta, err := time.Parse(time.RFC3339, a)
		if err != nil {
			return 0, err
		}
		tb, err := time.Parse(time.RFC3339, b)
		if err != nil {
			return 0, err
		}
		return ta.Compare(tb), nil
	case CheckpointRowNumber:
		na, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return 0, err
		}
		nb, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return 0, err
		}
		switch {
		case na < nb:
			return -1, nil
		case na > nb:
			return 1, nil
		}
		return 0, nil
	default:
		return 0, nil
	}
}
