package queue

import "errors"

var (
	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrDocumentIDRequired is returned when a request has no document ID.
	ErrDocumentIDRequired = errors.New("document id required")

	// ErrUserIDRequired is returned when a request has no user ID.
	ErrUserIDRequired = errors.New("user id required")

	// ErrJobNotFound is returned when a document has never been enqueued.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when cancelling a job that already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")

	// ErrJobNotActive is returned when reporting on a job that is not running.
	ErrJobNotActive = errors.New("job is not active")
)
