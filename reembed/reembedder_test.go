package reembed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docvec/ai/mock"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
	"github.com/poiesic/docvec/storage/badger"
	"github.com/poiesic/docvec/vectorstore"
)

const (
	oldDims  = 16
	newModel = "new-model"
)

func newTestManager(t *testing.T) *vectorstore.Manager {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	backend, err := vectorstore.NewHNSWBackend(repos.Vectors)
	require.NoError(t, err)
	m, err := vectorstore.NewManager(backend)
	require.NoError(t, err)
	return m
}

func newTestClient(t *testing.T, embedder *mock.MockEmbedder) *embedding.Client {
	t.Helper()
	client, err := embedding.NewClient(embedder,
		embedding.WithSubBatchSize(2),
		embedding.WithRetryDelay(0),
	)
	require.NoError(t, err)
	return client
}

func seed(t *testing.T, m *vectorstore.Manager, user string, n int) []*core.VectorRecord {
	t.Helper()
	records := make([]*core.VectorRecord, n)
	for i := range n {
		text := fmt.Sprintf("chunk %d of the manual", i)
		records[i] = &core.VectorRecord{
			ID:         core.RecordID("doc", i),
			UserID:     user,
			DocumentID: "doc",
			Text:       text,
			Vector:     mock.Vector(text, oldDims),
			Timestamp:  time.Now().UTC(),
		}
	}
	_, err := m.Insert(context.Background(), user, records)
	require.NoError(t, err)
	return records
}

func TestNewReembedder(t *testing.T) {
	m := newTestManager(t)
	client := newTestClient(t, mock.NewMockEmbedder())

	_, err := NewReembedder(m, client, Config{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrModelRequired)

	r, err := NewReembedder(m, client, Config{Model: newModel}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, r.config.BatchSize)
}

func TestReembedder_EmptyCollection(t *testing.T) {
	var out bytes.Buffer
	r, err := NewReembedder(newTestManager(t), newTestClient(t, mock.NewMockEmbedder()), Config{Model: newModel}, &out)
	require.NoError(t, err)

	n, err := r.Run(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, out.String(), "No chunks found for alice")
}

func TestReembedder_RebuildsOnDimensionChange(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	seed(t, m, "alice", 5)
	seed(t, m, "bob", 2)
	client := newTestClient(t, mock.NewMockEmbedder())

	var out bytes.Buffer
	r, err := NewReembedder(m, client, Config{Model: newModel, BatchSize: 2}, &out)
	require.NoError(t, err)

	n, err := r.Run(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Contains(t, out.String(), "rebuilding collection")
	assert.Contains(t, out.String(), "Stored 5/5 chunks")

	records, err := m.Records(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, records, 5)
	for _, rec := range records {
		assert.Len(t, rec.Vector, mock.DefaultDimensions)
	}

	query, err := client.Embed(ctx, "chunk 3 of the manual", newModel)
	require.NoError(t, err)
	results, err := m.Query(ctx, "alice", query, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.RecordID("doc", 3), results[0].Record.ID)

	// Other users are untouched
	bob, err := m.Records(ctx, "bob", "")
	require.NoError(t, err)
	for _, rec := range bob {
		assert.Len(t, rec.Vector, oldDims)
	}
}

func TestReembedder_SameDimensionsUpserts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	embedder := mock.NewMockEmbedder().WithEmbedTextsFunc(func(ctx context.Context, model string, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(model+text, oldDims)
		}
		return out, nil
	})
	seed(t, m, "alice", 3)

	var out bytes.Buffer
	r, err := NewReembedder(m, newTestClient(t, embedder), Config{Model: newModel}, &out)
	require.NoError(t, err)

	n, err := r.Run(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotContains(t, out.String(), "rebuilding")

	stats, err := m.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ChunkCount)

	records, err := m.Records(ctx, "alice", "")
	require.NoError(t, err)
	want := embedding.NormalizeVector(mock.Vector(newModel+records[0].Text, oldDims))
	assert.InDeltaSlice(t, want, records[0].Vector, 1e-6)
}

func TestReembedder_FailureLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	original := seed(t, m, "alice", 4)
	embedder := mock.NewMockEmbedder().WithEmbedTextsFunc(func(ctx context.Context, model string, texts []string) ([][]float32, error) {
		return nil, errors.New("backend down")
	})

	r, err := NewReembedder(m, newTestClient(t, embedder), Config{Model: newModel, BatchSize: 2}, &bytes.Buffer{})
	require.NoError(t, err)

	_, err = r.Run(ctx, "alice")
	require.ErrorIs(t, err, ErrIncompleteBatch)

	records, err := m.Records(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i, rec := range records {
		assert.Equal(t, original[i].Vector, rec.Vector)
	}
}

func TestRecordIterator(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	seed(t, m, "alice", 5)

	t.Run("batches", func(t *testing.T) {
		var sizes []int
		err := NewRecordIterator(m, 2).ForEach(ctx, "alice", func(batch []*core.VectorRecord) error {
			sizes = append(sizes, len(batch))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2, 1}, sizes)
	})

	t.Run("default batch size", func(t *testing.T) {
		it := NewRecordIterator(m, 0)
		assert.Equal(t, DefaultBatchSize, it.batchSize)
	})

	t.Run("stops on error", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := NewRecordIterator(m, 2).ForEach(ctx, "alice", func([]*core.VectorRecord) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := NewRecordIterator(m, 2).ForEach(cctx, "alice", func([]*core.VectorRecord) error {
			t.Fatal("fn should not be called")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("requires user", func(t *testing.T) {
		err := NewRecordIterator(m, 2).ForEach(ctx, "", func([]*core.VectorRecord) error { return nil })
		assert.ErrorIs(t, err, vectorstore.ErrUserRequired)
	})
}
