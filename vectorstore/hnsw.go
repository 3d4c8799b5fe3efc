package vectorstore

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
)

const (
	defaultM        = 16
	defaultEfSearch = 20
	defaultMl       = 0.25
)

// HNSWBackend keeps one in-memory HNSW graph per collection over records
// persisted in a storage.VectorRepository. Graphs are rebuilt from the
// repository the first time a collection is touched.
type HNSWBackend struct {
	repo   storage.VectorRepository
	logger *slog.Logger

	mu      sync.Mutex
	indexes map[string]*collectionIndex
}

var _ Backend = (*HNSWBackend)(nil)

// collectionIndex is the graph and record set of one collection.
// Replaced and deleted records are dropped from the ID maps only; their
// nodes stay in the graph and are skipped at search time.
type collectionIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	records map[string]*core.VectorRecord
	nextKey uint64
	dims    int
}

// HNSWOption configures an HNSWBackend.
type HNSWOption func(*HNSWBackend) error

// WithBackendLogger sets a custom logger for the backend.
// Default is slog.Default().
func WithBackendLogger(logger *slog.Logger) HNSWOption {
	return func(b *HNSWBackend) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger.With("component", "hnsw")
		return nil
	}
}

// NewHNSWBackend creates a backend over repo.
func NewHNSWBackend(repo storage.VectorRepository, opts ...HNSWOption) (*HNSWBackend, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	b := &HNSWBackend{
		repo:    repo,
		logger:  slog.Default().With("component", "hnsw"),
		indexes: make(map[string]*collectionIndex),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func newCollectionIndex() *collectionIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = defaultM
	graph.EfSearch = defaultEfSearch
	graph.Ml = defaultMl
	return &collectionIndex{
		graph:   graph,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		records: make(map[string]*core.VectorRecord),
	}
}

// index returns the loaded index for collection, building it on first use.
func (b *HNSWBackend) index(ctx context.Context, collection string) (*collectionIndex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.indexes[collection]; ok {
		return idx, nil
	}

	records, err := b.repo.FindRecords(ctx, collection, storage.RecordFilter{})
	if err != nil {
		return nil, err
	}
	idx := newCollectionIndex()
	for _, rec := range records {
		if idx.dims == 0 {
			idx.dims = len(rec.Vector)
		}
		if len(rec.Vector) != idx.dims {
			b.logger.Warn("skipping record with mismatched dimensions", "collection", collection, "id", rec.ID)
			continue
		}
		idx.add(rec)
	}
	b.indexes[collection] = idx
	b.logger.Debug("loaded collection index", "collection", collection, "records", len(idx.records))
	return idx, nil
}

// add must be called with the write lock held.
func (idx *collectionIndex) add(rec *core.VectorRecord) {
	if existing, ok := idx.idMap[rec.ID]; ok {
		delete(idx.keyMap, existing)
	}
	key := idx.nextKey
	idx.nextKey++
	idx.graph.Add(hnsw.MakeNode(key, slices.Clone(rec.Vector)))
	idx.idMap[rec.ID] = key
	idx.keyMap[key] = rec.ID
	idx.records[rec.ID] = rec
}

// reset drops the graph so an emptied collection can take vectors of any size.
// Must be called with the write lock held.
func (idx *collectionIndex) reset() {
	fresh := newCollectionIndex()
	idx.graph = fresh.graph
	idx.idMap = fresh.idMap
	idx.keyMap = fresh.keyMap
	idx.records = fresh.records
	idx.nextKey = 0
	idx.dims = 0
}

// remove must be called with the write lock held.
func (idx *collectionIndex) remove(id string) {
	if key, ok := idx.idMap[id]; ok {
		delete(idx.keyMap, key)
		delete(idx.idMap, id)
	}
	delete(idx.records, id)
}

func (b *HNSWBackend) EnsureCollection(ctx context.Context, name, ownerID string) (bool, error) {
	_, created, err := b.repo.EnsureCollection(ctx, name, ownerID)
	return created, err
}

func (b *HNSWBackend) Insert(ctx context.Context, collection string, records []*core.VectorRecord) (InsertStats, error) {
	idx, err := b.index(ctx, collection)
	if err != nil {
		return InsertStats{}, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	stats := InsertStats{Before: len(idx.records)}
	if len(records) == 0 {
		stats.After = stats.Before
		return stats, nil
	}

	dims := idx.dims
	if dims == 0 {
		dims = len(records[0].Vector)
	}
	copies := make([]*core.VectorRecord, len(records))
	for i, rec := range records {
		if len(rec.Vector) != dims {
			return stats, ErrDimensionMismatch{Collection: collection, Expected: dims, Got: len(rec.Vector)}
		}
		copies[i] = cloneRecord(rec)
		copies[i].Collection = collection
	}

	if err := b.repo.UpsertRecords(ctx, collection, copies); err != nil {
		return stats, err
	}

	idx.dims = dims
	for _, rec := range copies {
		idx.add(rec)
	}
	stats.After = len(idx.records)
	return stats, nil
}

func (b *HNSWBackend) Search(ctx context.Context, collection string, vector []float32, k int, filter storage.RecordFilter) ([]core.SearchResult, error) {
	idx, err := b.index(ctx, collection)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.records) == 0 {
		return nil, nil
	}
	if len(vector) != idx.dims {
		return nil, ErrDimensionMismatch{Collection: collection, Expected: idx.dims, Got: len(vector)}
	}

	var results []core.SearchResult
	if filter.SessionID != "" || filter.DocumentID != "" {
		// Filtered subsets are usually small; the graph cannot be asked for them directly.
		for _, rec := range idx.records {
			if matches(rec, filter) {
				results = append(results, core.SearchResult{
					Record: rec,
					Score:  1 - hnsw.CosineDistance(vector, rec.Vector),
				})
			}
		}
	} else {
		// Over-fetch by the number of orphaned nodes so lazily deleted entries
		// cannot crowd out live ones.
		orphans := idx.graph.Len() - len(idx.idMap)
		fetch := min(k+orphans, idx.graph.Len())
		for _, node := range idx.graph.Search(vector, fetch) {
			id, ok := idx.keyMap[node.Key]
			if !ok {
				continue
			}
			results = append(results, core.SearchResult{
				Record: idx.records[id],
				Score:  1 - hnsw.CosineDistance(vector, node.Value),
			})
		}
	}

	slices.SortFunc(results, func(a, b core.SearchResult) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), strings.Compare(a.Record.ID, b.Record.ID))
	})
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Record = cloneRecord(results[i].Record)
	}
	return results, nil
}

func (b *HNSWBackend) Delete(ctx context.Context, collection string, filter storage.RecordFilter) (int, error) {
	idx, err := b.index(ctx, collection)
	if err != nil {
		return 0, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	deleted, err := b.repo.DeleteRecords(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	for _, rec := range deleted {
		idx.remove(rec.ID)
	}
	if len(idx.records) == 0 {
		idx.reset()
	}
	return len(deleted), nil
}

func (b *HNSWBackend) Count(ctx context.Context, collection string) (int, error) {
	idx, err := b.index(ctx, collection)
	if err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records), nil
}

func (b *HNSWBackend) Records(ctx context.Context, collection string, filter storage.RecordFilter) ([]*core.VectorRecord, error) {
	idx, err := b.index(ctx, collection)
	if err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []*core.VectorRecord
	for _, rec := range idx.records {
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b *core.VectorRecord) int {
		return cmp.Or(strings.Compare(a.DocumentID, b.DocumentID), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func matches(rec *core.VectorRecord, filter storage.RecordFilter) bool {
	if filter.SessionID != "" && rec.SessionID != filter.SessionID {
		return false
	}
	if filter.DocumentID != "" && rec.DocumentID != filter.DocumentID {
		return false
	}
	return true
}

func cloneRecord(rec *core.VectorRecord) *core.VectorRecord {
	out := *rec
	out.Vector = slices.Clone(rec.Vector)
	out.Metadata = maps.Clone(rec.Metadata)
	return &out
}
