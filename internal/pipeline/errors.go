package pipeline

import "errors"

var (
	// ErrMissingConfig marks a missing required configuration field. It is
	// surfaced before any network call is made.
	ErrMissingConfig = errors.New("missing required configuration")

	// ErrSource marks a content fetch failure. Not retried.
	ErrSource = errors.New("content source failure")

	// ErrProvider marks an unreachable or unauthorized embedding/model
	// provider. Not retried.
	ErrProvider = errors.New("provider failure")

	// ErrNotReady is returned when Answer is called before Initialize
	// has completed successfully.
	ErrNotReady = errors.New("pipeline not initialized")

	// ErrBusy is returned when a call overlaps an in-flight Initialize.
	ErrBusy = errors.New("initialization in progress")
)
