package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrUserRequired is returned when an operation is called without a user ID.
	ErrUserRequired = errors.New("user id required")

	// ErrTenantMismatch is returned when a record belongs to a different user than the caller.
	ErrTenantMismatch = errors.New("record belongs to another user")

	// ErrSessionRequired is returned when a session-scoped delete has no session ID.
	ErrSessionRequired = errors.New("session id required")

	// ErrDocumentRequired is returned when a document-scoped delete has no document ID.
	ErrDocumentRequired = errors.New("document id required")

	// ErrInvalidK is returned when a query asks for fewer than one result.
	ErrInvalidK = errors.New("k must be positive")

	// ErrBackendRequired is returned when a Manager is created without a backend.
	ErrBackendRequired = errors.New("vector store backend required")

	// ErrRepositoryRequired is returned when a backend is created without a repository.
	ErrRepositoryRequired = errors.New("vector repository required")
)

// ErrDimensionMismatch is returned when a vector's size differs from the collection's.
type ErrDimensionMismatch struct {
	Collection string
	Expected   int
	Got        int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: expected %d, got %d", e.Collection, e.Expected, e.Got)
}
