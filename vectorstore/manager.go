package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
)

const collectionPrefix = "user_"

// InsertResult reports the outcome of Manager.Insert.
type InsertResult struct {
	Inserted       int
	BecameNonEmpty bool
}

// Manager enforces per-user isolation over a Backend.
type Manager struct {
	backend Backend
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger.With("component", "vectorstore")
		return nil
	}
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	m := &Manager{
		backend: backend,
		logger:  slog.Default().With("component", "vectorstore"),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CollectionName maps a user ID to its collection name.
// Letters, digits and '-' are kept; every other byte is hex-escaped after '_',
// so distinct user IDs never share a collection.
func CollectionName(userID string) string {
	var sb strings.Builder
	sb.WriteString(collectionPrefix)
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "_%02x", c)
		}
	}
	return sb.String()
}

func (m *Manager) collection(userID string) (string, error) {
	if userID == "" {
		return "", ErrUserRequired
	}
	return CollectionName(userID), nil
}

// GetOrCreateCollection returns the user's collection name, creating it if needed.
func (m *Manager) GetOrCreateCollection(ctx context.Context, userID string) (string, error) {
	name, err := m.collection(userID)
	if err != nil {
		return "", err
	}
	created, err := m.backend.EnsureCollection(ctx, name, userID)
	if err != nil {
		return "", err
	}
	if created {
		m.logger.Info("created collection", "collection", name)
	}
	return name, nil
}

// Insert adds records to the user's collection. Every record must belong to userID.
func (m *Manager) Insert(ctx context.Context, userID string, records []*core.VectorRecord) (InsertResult, error) {
	if userID == "" {
		return InsertResult{}, ErrUserRequired
	}
	for _, rec := range records {
		if err := core.ValidateRecord(rec); err != nil {
			return InsertResult{}, err
		}
		if rec.UserID != userID {
			return InsertResult{}, fmt.Errorf("%w: record %s", ErrTenantMismatch, rec.ID)
		}
	}

	name, err := m.GetOrCreateCollection(ctx, userID)
	if err != nil {
		return InsertResult{}, err
	}
	stats, err := m.backend.Insert(ctx, name, records)
	if err != nil {
		return InsertResult{}, err
	}
	return InsertResult{
		Inserted:       len(records),
		BecameNonEmpty: stats.Before == 0 && stats.After > 0,
	}, nil
}

// Query returns the k records of the user's collection nearest to vector.
// A non-empty sessionID restricts results to that session.
func (m *Manager) Query(ctx context.Context, userID string, vector []float32, k int, sessionID string) ([]core.SearchResult, error) {
	name, err := m.collection(userID)
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, ErrInvalidK
	}
	results, err := m.backend.Search(ctx, name, vector, k, storage.RecordFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		if r.Record.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteBySession removes every record of one session and returns how many were removed.
func (m *Manager) DeleteBySession(ctx context.Context, userID, sessionID string) (int, error) {
	name, err := m.collection(userID)
	if err != nil {
		return 0, err
	}
	if sessionID == "" {
		return 0, ErrSessionRequired
	}
	return m.backend.Delete(ctx, name, storage.RecordFilter{SessionID: sessionID})
}

// DeleteByDocument removes every record of one document and returns how many were removed.
func (m *Manager) DeleteByDocument(ctx context.Context, userID, documentID string) (int, error) {
	name, err := m.collection(userID)
	if err != nil {
		return 0, err
	}
	if documentID == "" {
		return 0, ErrDocumentRequired
	}
	return m.backend.Delete(ctx, name, storage.RecordFilter{DocumentID: documentID})
}

// Records returns the user's records, optionally restricted to one session,
// ordered by document then record ID.
func (m *Manager) Records(ctx context.Context, userID, sessionID string) ([]*core.VectorRecord, error) {
	name, err := m.collection(userID)
	if err != nil {
		return nil, err
	}
	return m.backend.Records(ctx, name, storage.RecordFilter{SessionID: sessionID})
}

// Reset removes every record of the user's collection and returns how many were removed.
// The emptied collection accepts vectors of a different size.
func (m *Manager) Reset(ctx context.Context, userID string) (int, error) {
	name, err := m.collection(userID)
	if err != nil {
		return 0, err
	}
	return m.backend.Delete(ctx, name, storage.RecordFilter{})
}

// Stats summarizes the user's collection. A user with no collection has zero stats.
func (m *Manager) Stats(ctx context.Context, userID string) (core.CollectionStats, error) {
	name, err := m.collection(userID)
	if err != nil {
		return core.CollectionStats{}, err
	}
	records, err := m.backend.Records(ctx, name, storage.RecordFilter{})
	if err != nil {
		return core.CollectionStats{}, err
	}
	docs := make(map[string]struct{})
	for _, rec := range records {
		docs[rec.DocumentID] = struct{}{}
	}
	return core.CollectionStats{
		ChunkCount:    len(records),
		DocumentCount: len(docs),
	}, nil
}
