// Package stub provides an in-memory source adapter for tests and local
// development. Pages are scripted up front and served in order.
package stub

import (
	"context"
	"sync"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion"
)

// Adapter serves scripted pages. Each FetchSince call consumes the next page
// in sequence; once the script is exhausted it returns empty pages. An error
// queued with FailNext is returned before any page is served.
type Adapter struct {
	mu      sync.Mutex
	source  domain.Source
	ckpType domain.CheckpointType
	pages   []*ingestion.Page
	next    int
	errs    []error

	// Calls records the cursor passed to each FetchSince invocation.
	Calls []string
}

// New creates a stub adapter for the given source.
func New(source domain.Source, ckpType domain.CheckpointType) *Adapter {
	return &Adapter{source: source, ckpType: ckpType}
}

// Compile-time interface check.
var _ ingestion.SourceAdapter = (*Adapter)(nil)

// Source identifies the adapter's source.
func (a *Adapter) Source() domain.Source {
	return a.source
}

// CheckpointType declares the cursor format.
func (a *Adapter) CheckpointType() domain.CheckpointType {
	return a.ckpType
}

// Enqueue appends a page to the script.
func (a *Adapter) Enqueue(page *ingestion.Page) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages = append(a.pages, page)
}

// FailNext queues an error to be returned by the next FetchSince call.
func (a *Adapter) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

// FetchSince serves the next scripted page.
func (a *Adapter) FetchSince(ctx context.Context, cursor string) (*ingestion.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, cursor)

	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}

	if a.next >= len(a.pages) {
		return &ingestion.Page{NextCursor: cursor}, nil
	}
	page := a.pages[a.next]
	a.next++
	return page, nil
}
