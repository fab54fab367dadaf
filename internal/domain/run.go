package domain

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed
}

// Run is one execution attempt of a source's ingestion.
// Corresponds to the runs table. Created with status=running, closed exactly
// once to success or failed, immutable after closure. Closed runs form the
// append-only run ledger consumed by drift and anomaly analysis.
type Run struct {
	RunID            string // UUID
	SourceName       Source
	Status           RunStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	DurationSeconds  *float64
	RecordsFetched   int
	RecordsProcessed int
	RecordsFailed    int
	ErrorMessage     *string
	// SchemaFields is the sorted set of field names seen in the run's raw
	// payloads, used by schema drift analysis.
	SchemaFields []string
}
