package reembed

import "errors"

var (
	// ErrModelRequired is returned when no embedding model is configured.
	ErrModelRequired = errors.New("embedding model required")

	// ErrIncompleteBatch is returned when some chunks of a batch could not be embedded.
	ErrIncompleteBatch = errors.New("batch not fully embedded")
)
