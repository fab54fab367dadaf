package ingestion

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// RetryingAdapter wraps a SourceAdapter with exponential backoff. Fetch
// failures are retried up to MaxRetries times; a terminal failure comes back
// as *AdapterError so callers can tell "source down" from their own bugs.
type RetryingAdapter struct {
	inner       SourceAdapter
	maxRetries  uint64
	maxInterval time.Duration
	logger      *log.Logger
}

// RetryOptions configures the retry policy.
type RetryOptions struct {
	Adapter SourceAdapter

	// MaxRetries is the number of retries after the initial attempt.
	// Default 3.
	MaxRetries uint64

	// MaxInterval caps the backoff delay between attempts. Default 30s.
	MaxInterval time.Duration

	Logger *log.Logger
}

// WithRetry wraps an adapter with the retry policy.
func WithRetry(opts RetryOptions) *RetryingAdapter {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	maxInterval := opts.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RetryingAdapter{
		inner:       opts.Adapter,
		maxRetries:  maxRetries,
		maxInterval: maxInterval,
		logger:      logger,
	}
}

// Compile-time interface check.
var _ SourceAdapter = (*RetryingAdapter)(nil)

// Source identifies the wrapped adapter's source.
func (a *RetryingAdapter) Source() domain.Source {
	return a.inner.Source()
}

// CheckpointType declares the wrapped adapter's cursor format.
func (a *RetryingAdapter) CheckpointType() domain.CheckpointType {
	return a.inner.CheckpointType()
}

// FetchSince retries the wrapped fetch with exponential backoff.
func (a *RetryingAdapter) FetchSince(ctx context.Context, cursor string) (*Page, error) {
	var page *Page

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = a.maxInterval
	if policy.InitialInterval > a.maxInterval {
		policy.InitialInterval = a.maxInterval
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var fetchErr error
		page, fetchErr = a.inner.FetchSince(ctx, cursor)
		return fetchErr
	}, backoff.WithContext(backoff.WithMaxRetries(policy, a.maxRetries), ctx))

	if err != nil {
		a.logger.Printf("Source %s fetch failed after %d attempts: %v", a.Source(), attempt, err)
		return nil, &AdapterError{Source: a.Source(), Err: err}
	}
	return page, nil
}
