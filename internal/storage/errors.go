package storage

import "errors"

// Storage errors shared by all store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCheckpointRegression is returned when an advance would move a
	// checkpoint backward. Progress is monotonic per source.
	ErrCheckpointRegression = errors.New("checkpoint regression: cursor would move backward")

	// ErrRunActive is returned when a run is opened for a source that
	// already has a run in the running state.
	ErrRunActive = errors.New("run already active for source")

	// ErrRunClosed is returned when closing a run that already reached a
	// terminal state. Runs close exactly once.
	ErrRunClosed = errors.New("run already closed")
)
