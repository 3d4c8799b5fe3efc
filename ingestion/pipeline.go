package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docvec/chunk"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
	"github.com/poiesic/docvec/extract"
	"github.com/poiesic/docvec/queue"
	"github.com/poiesic/docvec/storage"
	"github.com/poiesic/docvec/vectorstore"
)

const (
	DefaultModel         = "nomic-embed-text"
	DefaultStageTimeout  = 60 * time.Second
	DefaultStoreAttempts = 3
	DefaultStoreBackoff  = 200 * time.Millisecond
)

// Publisher receives progress events.
type Publisher interface {
	Publish(event core.ProgressEvent)
}

// CancelChecker reports whether a running job should stop.
type CancelChecker interface {
	IsCancelled(ctx context.Context, documentID string) (bool, error)
}

type discardPublisher struct{}

func (discardPublisher) Publish(core.ProgressEvent) {}

// Pipeline runs a document through extraction, chunking, embedding and storage.
// It is safe for concurrent use; each Run has its own state.
type Pipeline struct {
	docs          storage.DocumentRepository
	extractors    *extract.Registry
	chunker       *chunk.Chunker
	embedder      *embedding.Client
	vectors       *vectorstore.Manager
	events        Publisher
	cancels       CancelChecker
	model         string
	stageTimeout  time.Duration
	storeAttempts int
	storeBackoff  time.Duration
	maxChunks     int
	stages        []stage
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithModel sets the embedding model.
// Default is DefaultModel.
func WithModel(model string) Option {
	return func(p *Pipeline) error {
		if model == "" {
			return embedding.ErrModelRequired
		}
		p.model = model
		return nil
	}
}

// WithStageTimeout bounds each extraction attempt and each storage insert.
// Zero disables the timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			return fmt.Errorf("stage timeout must not be negative, got %s", d)
		}
		p.stageTimeout = d
		return nil
	}
}

// WithStoreRetry sets how many times an insert is attempted and the first retry delay.
func WithStoreRetry(attempts int, backoff time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			return fmt.Errorf("store attempts must be positive, got %d", attempts)
		}
		p.storeAttempts = attempts
		p.storeBackoff = backoff
		return nil
	}
}

// WithMaxChunks rejects documents that split into more than n chunks.
// Zero means no limit.
func WithMaxChunks(n int) Option {
	return func(p *Pipeline) error {
		p.maxChunks = max(n, 0)
		return nil
	}
}

// WithPublisher sets where progress events go.
// Default discards them.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) error {
		if pub == nil {
			pub = discardPublisher{}
		}
		p.events = pub
		return nil
	}
}

// WithCancelChecker sets how the pipeline learns about cancellation.
// Without one, runs stop only when their context ends.
func WithCancelChecker(c CancelChecker) Option {
	return func(p *Pipeline) error {
		p.cancels = c
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "pipeline")
		return nil
	}
}

// NewPipeline creates a new document pipeline.
func NewPipeline(
	docs storage.DocumentRepository,
	extractors *extract.Registry,
	chunker *chunk.Chunker,
	embedder *embedding.Client,
	vectors *vectorstore.Manager,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case docs == nil:
		return nil, ErrDocumentRepositoryRequired
	case extractors == nil:
		return nil, ErrExtractorsRequired
	case chunker == nil:
		return nil, ErrChunkerRequired
	case embedder == nil:
		return nil, ErrEmbeddingClientRequired
	case vectors == nil:
		return nil, ErrVectorStoreRequired
	}

	p := &Pipeline{
		docs:          docs,
		extractors:    extractors,
		chunker:       chunker,
		embedder:      embedder,
		vectors:       vectors,
		events:        discardPublisher{},
		model:         DefaultModel,
		stageTimeout:  DefaultStageTimeout,
		storeAttempts: DefaultStoreAttempts,
		storeBackoff:  DefaultStoreBackoff,
		logger:        slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	// Stages are built after options so they get the final config
	p.stages = []stage{
		&extractStage{registry: p.extractors, timeout: p.stageTimeout, logger: p.logger},
		&chunkStage{chunker: p.chunker, maxChunks: p.maxChunks, logger: p.logger},
		&embedStage{client: p.embedder, model: p.model, logger: p.logger},
		&storeStage{vectors: p.vectors, attempts: p.storeAttempts, backoff: p.storeBackoff, timeout: p.stageTimeout, logger: p.logger},
	}
	return p, nil
}

// Run processes the job's document and returns the outcome for the scheduler.
//
// Stage failures are returned as *core.StageError. A cancellation observed at a
// stage boundary is returned as a StageError wrapping core.ErrCancelled, and
// nothing is stored after it. A cancellation seen once storing has finished
// removes the document's records before returning. If ctx ends, ctx.Err() is
// returned unwrapped.
func (p *Pipeline) Run(ctx context.Context, job *core.Job) (queue.Outcome, error) {
	logger := p.logger.With("document", job.DocumentID, "attempt", job.Attempt+1)

	doc, err := p.docs.GetDocument(ctx, job.DocumentID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queue.Outcome{}, ctxErr
		}
		return queue.Outcome{}, &core.StageError{
			Stage:     core.StageExtracting,
			Err:       fmt.Errorf("%w: %w", ErrDocumentUnavailable, err),
			Retryable: !errors.Is(err, storage.ErrNotFound),
		}
	}

	r := &run{job: job, doc: doc}
	r.report = func(stage core.Stage, percent int, message string) {
		p.events.Publish(core.ProgressEvent{
			Type:       core.EventProgress,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			Stage:      stage,
			Percent:    percent,
			Message:    message,
			Timestamp:  time.Now().UTC(),
		})
	}

	started := time.Now()
	for _, s := range p.stages {
		if p.cancelled(ctx, doc.ID) {
			logger.Info("run cancelled", "before", s.name())
			return queue.Outcome{}, core.NewStageError(s.name(), core.ErrCancelled)
		}

		r.report(s.name(), s.percent(), "")
		stageStart := time.Now()
		if err := s.execute(ctx, r); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return queue.Outcome{}, ctxErr
			}
			logger.Warn("stage failed", "stage", s.name(), "err", err)
			return queue.Outcome{}, core.NewStageError(s.name(), err)
		}
		logger.Debug("stage finished", "stage", s.name(), "elapsed", time.Since(stageStart))
	}

	// A cancel that landed while storing discards what was stored
	if p.cancelled(ctx, doc.ID) {
		return queue.Outcome{}, p.discard(ctx, r, logger)
	}

	if r.becameNonEmpty {
		p.events.Publish(core.ProgressEvent{
			Type:      core.EventCollectionNonEmpty,
			UserID:    doc.UserID,
			Message:   "search is available",
			Timestamp: time.Now().UTC(),
		})
	}

	logger.Info("document processed", "chunks", len(r.chunks), "stored", r.inserted,
		"failed", len(r.failed), "elapsed", time.Since(started))
	return queue.Outcome{
		Degraded:     len(r.failed) > 0,
		FailedChunks: r.failed,
		ChunkCount:   r.inserted,
	}, nil
}

// cancelled reports whether cancellation was requested for documentID.
// Lookup errors are logged and treated as not cancelled.
func (p *Pipeline) cancelled(ctx context.Context, documentID string) bool {
	if p.cancels == nil {
		return false
	}
	cancelled, err := p.cancels.IsCancelled(ctx, documentID)
	if err != nil {
		p.logger.Warn("cancellation check failed", "document", documentID, "err", err)
		return false
	}
	return cancelled
}

// discard removes the records a cancelled run already stored.
func (p *Pipeline) discard(ctx context.Context, r *run, logger *slog.Logger) error {
	if r.inserted == 0 {
		logger.Info("run cancelled", "after", core.StageStoring)
		return core.NewStageError(core.StageStoring, core.ErrCancelled)
	}
	removed, err := p.vectors.DeleteByDocument(context.WithoutCancel(ctx), r.doc.UserID, r.doc.ID)
	if err != nil {
		logger.Warn("discarding cancelled chunks failed", "err", err)
		return core.NewStageError(core.StageStoring, fmt.Errorf("%w: %w", core.ErrCancelled, err))
	}
	logger.Info("run cancelled", "after", core.StageStoring, "discarded", removed)
	return core.NewStageError(core.StageStoring, core.ErrCancelled)
}
