package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestDocumentRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := &core.Document{ID: "doc-1", UserID: "alice", SourcePath: "/tmp/a.txt"}
	require.NoError(t, repos.Documents.CreateDocument(ctx, doc))
	assert.Equal(t, core.DocumentUploaded, doc.Status)
	assert.False(t, doc.CreatedAt.IsZero())

	err := repos.Documents.CreateDocument(ctx, &core.Document{ID: "doc-1", UserID: "alice", SourcePath: "/tmp/b.txt"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = repos.Documents.CreateDocument(ctx, &core.Document{ID: "doc-2", SourcePath: "/tmp/b.txt"})
	assert.ErrorIs(t, err, core.ErrEmptyUserID)

	require.NoError(t, repos.Documents.UpdateStatus(ctx, "doc-1", core.StatusUpdate{
		Status:       core.DocumentCompleted,
		Degraded:     true,
		FailedChunks: []int{2},
		ChunkCount:   4,
	}))

	got, err := repos.Documents.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentCompleted, got.Status)
	assert.True(t, got.Degraded)
	assert.Equal(t, []int{2}, got.FailedChunks)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Equal(t, "/tmp/a.txt", got.SourcePath)

	_, err = repos.Documents.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = repos.Documents.UpdateStatus(ctx, "missing", core.StatusUpdate{Status: core.DocumentFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentRepository_ListDocuments(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, repos.Documents.CreateDocument(ctx, &core.Document{
			ID: id, UserID: "alice", SourcePath: id, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repos.Documents.CreateDocument(ctx, &core.Document{ID: "z", UserID: "bob", SourcePath: "z"}))

	docs, err := repos.Documents.ListDocuments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "c", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
	assert.Equal(t, "b", docs[2].ID)
}

func TestJobRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	_, err := repos.Jobs.GetJob(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repos.Jobs.SaveJob(ctx, &core.Job{DocumentID: "doc-1", State: core.JobQueued}))
	require.NoError(t, repos.Jobs.SaveJob(ctx, &core.Job{DocumentID: "doc-2", State: core.JobActive}))
	require.NoError(t, repos.Jobs.SaveJob(ctx, &core.Job{DocumentID: "doc-3", State: core.JobCompleted}))

	job, err := repos.Jobs.GetJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobQueued, job.State)
	assert.False(t, job.UpdatedAt.IsZero())

	jobs, err := repos.Jobs.FindJobs(ctx, core.JobQueued, core.JobActive)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// State index must follow updates
	job.State = core.JobFailed
	require.NoError(t, repos.Jobs.SaveJob(ctx, job))
	jobs, err = repos.Jobs.FindJobs(ctx, core.JobQueued)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = repos.Jobs.FindJobs(ctx)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestJobRepository_NextSeq(t *testing.T) {
	repos := newTestRepos(t)

	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				n, err := repos.Jobs.NextSeq()
				assert.NoError(t, err)
				assert.NotZero(t, n)
				mu.Lock()
				assert.False(t, seen[n], "duplicate sequence %d", n)
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 200)
}

func testRecord(doc, session string, i int) *core.VectorRecord {
	return &core.VectorRecord{
		ID:         core.RecordID(doc, i),
		UserID:     "alice",
		DocumentID: doc,
		SessionID:  session,
		Text:       "chunk",
		Vector:     []float32{float32(i), 1},
		Timestamp:  time.Now().UTC(),
	}
}

func TestVectorRepository_Collections(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	coll, created, err := repos.Vectors.EnsureCollection(ctx, "user_alice", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", coll.OwnerID)

	coll, created, err = repos.Vectors.EnsureCollection(ctx, "user_alice", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "user_alice", coll.Name)

	_, _, err = repos.Vectors.EnsureCollection(ctx, "user_bob", "bob")
	require.NoError(t, err)

	colls, err := repos.Vectors.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, colls, 2)
}

func TestVectorRepository_Records(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Vectors.UpsertRecords(ctx, "user_alice", []*core.VectorRecord{
		testRecord("d1", "s1", 0),
		testRecord("d1", "s1", 1),
		testRecord("d2", "s2", 0),
	}))
	// Same record ID in another collection is a distinct record
	require.NoError(t, repos.Vectors.UpsertRecords(ctx, "user_bob", []*core.VectorRecord{
		testRecord("d1", "s1", 0),
	}))

	all, err := repos.Vectors.FindRecords(ctx, "user_alice", storage.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySession, err := repos.Vectors.FindRecords(ctx, "user_alice", storage.RecordFilter{SessionID: "s2"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "d2", bySession[0].DocumentID)

	// Upsert replaces by ID
	replacement := testRecord("d1", "s1", 0)
	replacement.Text = "replaced"
	require.NoError(t, repos.Vectors.UpsertRecords(ctx, "user_alice", []*core.VectorRecord{replacement}))
	byDoc, err := repos.Vectors.FindRecords(ctx, "user_alice", storage.RecordFilter{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Len(t, byDoc, 2)

	deleted, err := repos.Vectors.DeleteRecords(ctx, "user_alice", storage.RecordFilter{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	remaining, err := repos.Vectors.FindRecords(ctx, "user_alice", storage.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	bobs, err := repos.Vectors.FindRecords(ctx, "user_bob", storage.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestVectorRepository_UpsertIsAllOrNothing(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	bad := testRecord("d1", "", 1)
	bad.Vector = nil
	err := repos.Vectors.UpsertRecords(ctx, "user_alice", []*core.VectorRecord{testRecord("d1", "", 0), bad})
	require.ErrorIs(t, err, core.ErrEmptyVector)

	records, err := repos.Vectors.FindRecords(ctx, "user_alice", storage.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVectorCache(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	_, ok, err := repos.Cache.GetVector(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repos.Cache.SetVector(ctx, "k", []float32{0.5, -1}, time.Hour))
	hit, ok, err := repos.Cache.GetVector(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, -1}, hit.Vector)
	assert.WithinDuration(t, time.Now().Add(time.Hour), hit.ExpiresAt, 2*time.Second)

	require.NoError(t, repos.Cache.SetVector(ctx, "forever", []float32{1}, 0))
	hit, ok, err = repos.Cache.GetVector(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, hit.ExpiresAt.IsZero())
}

func TestVectorCache_Expiry(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	// Badger TTLs have one second resolution
	require.NoError(t, repos.Cache.SetVector(ctx, "k", []float32{1}, time.Second))
	assert.Eventually(t, func() bool {
		_, ok, err := repos.Cache.GetVector(ctx, "k")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}
