// Package ingestion fetches raw records from the configured sources.
// Adapters are thin collaborators: they turn a checkpoint cursor into a page
// of source-shaped records and never touch the core's state.
package ingestion

import (
	"context"
	"fmt"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// Page is one batch of raw records fetched from a source.
type Page struct {
	Records []*domain.RawRecord

	// NextCursor is the checkpoint value to advance to once this page is
	// durably persisted. Its format matches the adapter's CheckpointType.
	NextCursor string

	// HasMore indicates the source has further records beyond this page.
	HasMore bool
}

// SourceAdapter is the contract between the ingestion core and one source.
// FetchSince must be side-effect-free with respect to core state and must
// return cursors matching the declared checkpoint type.
type SourceAdapter interface {
	Source() domain.Source
	CheckpointType() domain.CheckpointType
	FetchSince(ctx context.Context, cursor string) (*Page, error)
}

// AdapterError marks a source as unreachable after the retry policy gave up.
// It is fatal to the current run; the checkpoint stays untouched and the next
// trigger refetches from the same point.
type AdapterError struct {
	Source domain.Source
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
