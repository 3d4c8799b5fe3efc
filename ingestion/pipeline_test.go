package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docvec/ai/mock"
	"github.com/poiesic/docvec/chunk"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
	"github.com/poiesic/docvec/extract"
	"github.com/poiesic/docvec/queue"
	"github.com/poiesic/docvec/storage/badger"
	"github.com/poiesic/docvec/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = mock.DefaultDimensions

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.ProgressEvent
}

func (r *recordingPublisher) Publish(e core.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) ofType(t core.EventType) []core.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.ProgressEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type cancelFlag struct {
	atomic.Bool
}

func (c *cancelFlag) IsCancelled(ctx context.Context, documentID string) (bool, error) {
	return c.Load(), nil
}

// lateCanceller asks the scheduler to cancel the job right after answering
// its nth cancellation check, so the run has already moved past that check.
type lateCanceller struct {
	scheduler *queue.Scheduler
	nth       int32
	calls     atomic.Int32
}

func (c *lateCanceller) IsCancelled(ctx context.Context, documentID string) (bool, error) {
	cancelled, err := c.scheduler.IsCancelled(ctx, documentID)
	if c.calls.Add(1) == c.nth {
		if _, cerr := c.scheduler.Cancel(ctx, documentID); cerr != nil {
			return false, cerr
		}
	}
	return cancelled, err
}

type failingExtractor struct{}

func (failingExtractor) Name() string { return "broken" }

func (failingExtractor) Extract(ctx context.Context, path string) (*extract.Result, error) {
	return nil, errors.New("cannot parse")
}

type harness struct {
	repos    *badger.Repositories
	manager  *vectorstore.Manager
	embedder *mock.MockEmbedder
	chunker  *chunk.Chunker
	events   *recordingPublisher
	cancel   *cancelFlag
	pipeline *Pipeline
	dir      string
}

func newHarness(t *testing.T, registryOpts []extract.RegistryOption, opts ...Option) *harness {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	backend, err := vectorstore.NewHNSWBackend(repos.Vectors)
	require.NoError(t, err)
	manager, err := vectorstore.NewManager(backend)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	client, err := embedding.NewClient(embedder,
		embedding.WithSubBatchSize(1),
		embedding.WithConcurrency(2),
		embedding.WithRetryDelay(0),
	)
	require.NoError(t, err)

	registry, err := extract.NewRegistry(registryOpts...)
	require.NoError(t, err)

	// Paragraphs of 98 runes plus a blank line fill a 100-rune chunk exactly
	chunker, err := chunk.New(100, 0)
	require.NoError(t, err)

	h := &harness{
		repos:    repos,
		manager:  manager,
		embedder: embedder,
		chunker:  chunker,
		events:   &recordingPublisher{},
		cancel:   &cancelFlag{},
		dir:      t.TempDir(),
	}
	opts = append([]Option{
		WithPublisher(h.events),
		WithCancelChecker(h.cancel),
		WithStoreRetry(2, time.Millisecond),
	}, opts...)
	h.pipeline, err = NewPipeline(repos.Documents, registry, chunker, client, manager, opts...)
	require.NoError(t, err)
	return h
}

// addDocument writes content to a file and registers it.
func (h *harness) addDocument(t *testing.T, id, user, name, content string) *core.Job {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, h.repos.Documents.CreateDocument(context.Background(), &core.Document{
		ID: id, UserID: user, SessionID: "s1", SourcePath: path,
	}))
	return &core.Job{DocumentID: id, UserID: user, State: core.JobActive, MaxAttempts: 3}
}

func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		p := fmt.Sprintf("Paragraph %d talks about topic %d.", i, i)
		parts[i] = p + strings.Repeat("x", 98-len(p))
	}
	return strings.Join(parts, "\n\n")
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	_, err = NewPipeline(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	_, err = NewPipeline(repos.Documents, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrExtractorsRequired)

	registry, err := extract.NewRegistry()
	require.NoError(t, err)
	_, err = NewPipeline(repos.Documents, registry, nil, nil, nil)
	assert.ErrorIs(t, err, ErrChunkerRequired)
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(3))

	outcome, err := h.pipeline.Run(ctx, job)
	require.NoError(t, err)
	assert.False(t, outcome.Degraded)
	assert.Equal(t, 3, outcome.ChunkCount)

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 1, stats.DocumentCount)

	results, err := h.manager.Query(ctx, "alice", mock.Vector("x", testDims), 1, "s1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	rec := results[0].Record
	assert.Equal(t, "notes.txt", rec.Metadata["source"])
	assert.Equal(t, "s1", rec.SessionID)
	assert.True(t, strings.HasPrefix(rec.ID, "doc-1_chunk_"))

	progress := h.events.ofType(core.EventProgress)
	require.NotEmpty(t, progress)
	percents := make([]int, len(progress))
	for i, e := range progress {
		percents[i] = e.Percent
		assert.Equal(t, "doc-1", e.DocumentID)
	}
	assert.True(t, slices.IsSorted(percents), "percents must not decrease: %v", percents)
	assert.Equal(t, percentExtracting, percents[0])
	assert.Contains(t, percents, percentChunking)
	assert.Contains(t, percents, percentEmbeddingTo)
	assert.Equal(t, percentStoring, percents[len(percents)-1])

	nonEmpty := h.events.ofType(core.EventCollectionNonEmpty)
	require.Len(t, nonEmpty, 1)
	assert.Equal(t, "alice", nonEmpty[0].UserID)

	// A second document does not signal again
	job2 := h.addDocument(t, "doc-2", "alice", "more.txt", paragraphs(1))
	_, err = h.pipeline.Run(ctx, job2)
	require.NoError(t, err)
	assert.Len(t, h.events.ofType(core.EventCollectionNonEmpty), 1)
}

func TestRun_EmptyDocument(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.addDocument(t, "empty", "alice", "empty.txt", "  \n\t \n")

	outcome, err := h.pipeline.Run(ctx, job)
	require.NoError(t, err)
	assert.Zero(t, outcome.ChunkCount)
	assert.False(t, outcome.Degraded)
	assert.Zero(t, h.embedder.CallCount())

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stats.Searchable())
	assert.Empty(t, h.events.ofType(core.EventCollectionNonEmpty))
}

func TestRun_DegradedEmbedding(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	text := paragraphs(10)
	job := h.addDocument(t, "doc-1", "alice", "long.txt", text)

	chunks := h.chunker.Split("doc-1", text)
	require.Len(t, chunks, 10)
	failing := map[string]bool{chunks[2].Text: true, chunks[5].Text: true, chunks[7].Text: true}
	h.embedder.EmbedTextsFunc = func(ctx context.Context, model string, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			if failing[text] {
				return nil, errors.New("backend rejected input")
			}
			out[i] = mock.Vector(text, testDims)
		}
		return out, nil
	}

	outcome, err := h.pipeline.Run(ctx, job)
	require.NoError(t, err)
	assert.True(t, outcome.Degraded)
	assert.Equal(t, []int{2, 5, 7}, outcome.FailedChunks)
	assert.Equal(t, 7, outcome.ChunkCount)

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, stats.ChunkCount)
}

func TestRun_TotalEmbeddingOutage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(4))
	h.embedder.EmbedTextsFunc = func(ctx context.Context, model string, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}

	_, err := h.pipeline.Run(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbeddingTotalFailure)
	assert.True(t, core.IsRetryable(err))

	var se *core.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, core.StageEmbedding, se.Stage)

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount)
}

func TestRun_CancelledDuringEmbedding(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(4))
	h.embedder.EmbedTextsFunc = func(ctx context.Context, model string, texts []string) ([][]float32, error) {
		h.cancel.Store(true)
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, testDims)
		}
		return out, nil
	}

	_, err := h.pipeline.Run(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.False(t, core.IsRetryable(err))

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount, "nothing is stored after cancellation")
}

func TestRun_ExtractionFallsBackToSecondary(t *testing.T) {
	strategy := extract.Strategy{Primary: failingExtractor{}, Secondary: extract.NewPlainText()}
	h := newHarness(t, []extract.RegistryOption{extract.WithStrategy(strategy, ".txt")})
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(2))

	outcome, err := h.pipeline.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.ChunkCount)
}

func TestRun_ExtractionFailure(t *testing.T) {
	strategy := extract.Strategy{Primary: failingExtractor{}}
	h := newHarness(t, []extract.RegistryOption{extract.WithStrategy(strategy, ".txt")})
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(2))

	_, err := h.pipeline.Run(context.Background(), job)
	assert.ErrorIs(t, err, core.ErrExtractionFailure)
	assert.True(t, core.IsRetryable(err))
	assert.Zero(t, h.embedder.CallCount())
}

func TestRun_TooManyChunks(t *testing.T) {
	h := newHarness(t, nil, WithMaxChunks(2))
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(3))

	_, err := h.pipeline.Run(context.Background(), job)
	assert.ErrorIs(t, err, core.ErrChunkingFailure)
	assert.False(t, core.IsRetryable(err))
}

func TestRun_MissingDocument(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.pipeline.Run(context.Background(), &core.Job{DocumentID: "ghost", UserID: "alice"})
	assert.ErrorIs(t, err, ErrDocumentUnavailable)
	assert.False(t, core.IsRetryable(err))
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, nil)
	job := h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(2))
	ctx, cancel := context.WithCancel(context.Background())
	h.embedder.EmbedTextsFunc = func(c context.Context, model string, texts []string) ([][]float32, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	}

	_, err := h.pipeline.Run(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
	var se *core.StageError
	assert.False(t, errors.As(err, &se), "shutdown is not a stage failure")
}

// runScheduled runs a document through a real scheduler and reports the result back to it.
func runScheduled(t *testing.T, nth int32) (*harness, *core.Job, error) {
	t.Helper()
	ctx := context.Background()
	canceller := &lateCanceller{nth: nth}
	h := newHarness(t, nil, WithCancelChecker(canceller))
	sched, err := queue.NewScheduler(h.repos.Jobs, h.repos.Documents, queue.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	canceller.scheduler = sched

	h.addDocument(t, "doc-1", "alice", "notes.txt", paragraphs(4))
	_, _, err = sched.Enqueue(ctx, queue.EnqueueRequest{DocumentID: "doc-1", UserID: "alice"})
	require.NoError(t, err)
	nextCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	active, err := sched.Next(nextCtx)
	require.NoError(t, err)

	outcome, runErr := h.pipeline.Run(ctx, active)
	var job *core.Job
	if runErr != nil {
		job, err = sched.Fail(ctx, "doc-1", runErr)
	} else {
		job, err = sched.Complete(ctx, "doc-1", outcome)
	}
	require.NoError(t, err)
	return h, job, runErr
}

func TestRun_CancelledWhileStoring(t *testing.T) {
	// The fourth check guards the storing stage
	h, job, runErr := runScheduled(t, 4)
	ctx := context.Background()

	assert.ErrorIs(t, runErr, core.ErrCancelled)
	assert.Equal(t, core.JobCancelled, job.State)

	doc, err := h.repos.Documents.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentFailed, doc.Status)
	assert.Equal(t, "cancelled", doc.LastError)

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount, "stored chunks are discarded on cancellation")
	assert.Empty(t, h.events.ofType(core.EventCollectionNonEmpty))
}

func TestRun_CancelAfterFinalCheckCompletes(t *testing.T) {
	h, job, runErr := runScheduled(t, 5)
	ctx := context.Background()

	require.NoError(t, runErr)
	assert.Equal(t, core.JobCompleted, job.State)
	assert.False(t, job.CancelRequested)

	doc, err := h.repos.Documents.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentCompleted, doc.Status)

	stats, err := h.manager.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ChunkCount)
	assert.Len(t, h.events.ofType(core.EventCollectionNonEmpty), 1)
}
