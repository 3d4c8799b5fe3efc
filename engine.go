// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docvec wires the ingestion pipeline, job scheduler, worker pool,
// progress broadcaster and retrieval into a single Engine.
package docvec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/poiesic/docvec/ai"
	"github.com/poiesic/docvec/ai/ollama"
	"github.com/poiesic/docvec/ai/openai"
	"github.com/poiesic/docvec/cache"
	"github.com/poiesic/docvec/chunk"
	"github.com/poiesic/docvec/config"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
	"github.com/poiesic/docvec/extract"
	"github.com/poiesic/docvec/ingestion"
	"github.com/poiesic/docvec/progress"
	"github.com/poiesic/docvec/queue"
	"github.com/poiesic/docvec/reembed"
	"github.com/poiesic/docvec/search"
	"github.com/poiesic/docvec/storage"
	"github.com/poiesic/docvec/storage/badger"
	"github.com/poiesic/docvec/vectorstore"
	"github.com/poiesic/docvec/worker"
)

var (
	ErrUserIDRequired     = errors.New("user ID is required")
	ErrSourcePathRequired = errors.New("source path is required")
	ErrNotOwner           = errors.New("document belongs to another user")
	ErrAlreadyStarted     = errors.New("engine already started")
	ErrClosed             = errors.New("engine is closed")
	ErrWorkersRunning     = errors.New("workers are running")
)

// Engine owns every long-lived component of a docvec process.
type Engine struct {
	cfg        *config.Config
	repos      *badger.Repositories
	embedder   *embedding.Client
	vectors    *vectorstore.Manager
	extractors *extract.Registry
	scheduler  *queue.Scheduler
	pipeline   *ingestion.Pipeline
	pool       *worker.Pool
	events     *progress.Broadcaster
	searcher   *search.Searcher
	cron       *cron.Cron
	uploadDir  string
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	embedders []ai.Embedder
	logger    *slog.Logger
}

// WithEmbedders replaces the configured inference backends. The first is primary.
func WithEmbedders(primary ai.Embedder, fallbacks ...ai.Embedder) EngineOption {
	return func(o *engineOptions) {
		o.embedders = append([]ai.Embedder{primary}, fallbacks...)
	}
}

// WithLogger sets the logger every component derives from.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine opens storage and builds every component from cfg.
// Nothing runs until Start is called.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if len(options.embedders) == 0 {
		embedders, err := buildEmbedders(cfg)
		if err != nil {
			return nil, err
		}
		options.embedders = embedders
	}

	repos, err := badger.OpenRepositories(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	e, err := build(cfg, repos, options)
	if err != nil {
		repos.Close()
		return nil, err
	}
	return e, nil
}

func buildEmbedders(cfg *config.Config) ([]ai.Embedder, error) {
	configs, err := cfg.AIConfigs()
	if err != nil {
		return nil, err
	}
	embedders := make([]ai.Embedder, 0, len(configs))
	for _, c := range configs {
		var (
			e   ai.Embedder
			err error
		)
		switch c.Kind {
		case ai.KindOllama:
			e, err = ollama.NewEmbedder(c)
		default:
			e, err = openai.NewEmbedder(c)
		}
		if err != nil {
			return nil, fmt.Errorf("creating %s embedder for %s: %w", c.Kind, c.Host, err)
		}
		embedders = append(embedders, e)
	}
	return embedders, nil
}

func build(cfg *config.Config, repos *badger.Repositories, options *engineOptions) (*Engine, error) {
	logger := options.logger

	memory := cache.NewMemoryStore(cfg.Embedding.CacheSize, cfg.CacheTTL())
	tiered, err := cache.NewTiered(memory, repos.Cache, cfg.CacheTTL(), cache.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewClient(options.embedders[0],
		embedding.WithFallbacks(options.embedders[1:]...),
		embedding.WithCache(tiered),
		embedding.WithRateLimit(cfg.Embedding.RateLimitPerMinute),
		embedding.WithSubBatchSize(cfg.Embedding.SubBatchSize),
		embedding.WithConcurrency(cfg.Embedding.SubBatchConcurrency),
		embedding.WithCallTimeout(cfg.StageTimeout()),
		embedding.WithRetryDelay(cfg.RetryDelay()),
		embedding.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	backend, err := vectorstore.NewHNSWBackend(repos.Vectors, vectorstore.WithBackendLogger(logger))
	if err != nil {
		return nil, err
	}
	vectors, err := vectorstore.NewManager(backend, vectorstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	scheduler, err := queue.NewScheduler(repos.Jobs, repos.Documents,
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithBackoff(cfg.BackoffBase(), cfg.BackoffMax()),
		queue.WithPollInterval(cfg.PollInterval()),
		queue.WithRetryDegraded(cfg.Queue.RetryDegraded),
		queue.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	events, err := progress.NewBroadcaster(progress.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	extractors, err := extract.NewRegistry()
	if err != nil {
		return nil, err
	}
	chunker, err := chunk.New(cfg.Chunking.TargetSize, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	pipeline, err := ingestion.NewPipeline(repos.Documents, extractors, chunker, embedder, vectors,
		ingestion.WithModel(cfg.Embedding.Model),
		ingestion.WithStageTimeout(cfg.StageTimeout()),
		ingestion.WithStoreRetry(cfg.Pipeline.StoreAttempts, cfg.RetryDelay()),
		ingestion.WithPublisher(events),
		ingestion.WithCancelChecker(scheduler),
		ingestion.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	workers, err := worker.NewPool(scheduler, pipeline,
		worker.WithSize(cfg.Workers.Concurrency),
		worker.WithPublisher(events),
		worker.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	searcher, err := search.NewSearcher(embedder, vectors,
		search.WithModel(cfg.Embedding.Model),
		search.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	uploadDir := filepath.Join(os.TempDir(), "docvec-uploads")
	if !cfg.Storage.InMemory {
		uploadDir = filepath.Clean(cfg.Storage.Path) + "-uploads"
	}

	e := &Engine{
		cfg:        cfg,
		repos:      repos,
		embedder:   embedder,
		vectors:    vectors,
		extractors: extractors,
		scheduler:  scheduler,
		pipeline:   pipeline,
		pool:       workers,
		events:     events,
		searcher:   searcher,
		uploadDir:  uploadDir,
		logger:     logger.With("component", "engine"),
	}

	e.cron = cron.New(cron.WithLogger(&cronLoggerAdapter{logger: logger.With("component", "maintenance")}))
	if cfg.Maintenance.GCSchedule != "" {
		if _, err := e.cron.AddFunc(cfg.Maintenance.GCSchedule, e.runMaintenance); err != nil {
			return nil, fmt.Errorf("invalid gc schedule %q: %w", cfg.Maintenance.GCSchedule, err)
		}
	}
	return e, nil
}

// cronLoggerAdapter adapts slog.Logger to the cron.Logger interface.
type cronLoggerAdapter struct {
	logger *slog.Logger
}

var _ cron.Logger = (*cronLoggerAdapter)(nil)

func (cl *cronLoggerAdapter) Info(msg string, keysAndValues ...any) {
	cl.logger.Debug(msg, keysAndValues...)
}

func (cl *cronLoggerAdapter) Error(err error, msg string, keysAndValues ...any) {
	cl.logger.Error(msg, append(keysAndValues, "err", err)...)
}

func (e *Engine) runMaintenance() {
	start := time.Now()
	if err := e.RunMaintenance(); err != nil {
		e.logger.Warn("storage maintenance failed", "err", err)
		return
	}
	e.logger.Debug("storage maintenance finished", "elapsed", time.Since(start))
}

// RunMaintenance reclaims storage space.
func (e *Engine) RunMaintenance() error {
	return e.repos.Backend.RunGC()
}

// Start recovers jobs interrupted by a previous process, then starts the
// workers and the maintenance schedule. Workers stop when ctx ends or on Close.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case e.started:
		return ErrAlreadyStarted
	}

	recovered, err := e.scheduler.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	e.cron.Start()
	e.started = true
	e.logger.Info("engine started", "workers", e.pool.Size(), "recovered", recovered)
	return nil
}

// Close stops the workers and waits for running jobs, then closes progress
// subscriptions and storage. Jobs interrupted by Close are requeued.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	if started {
		e.pool.Stop()
		<-e.cron.Stop().Done()
	}
	e.events.Close()

	if err := e.repos.Close(); err != nil {
		e.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

// SubmitRequest registers a document and schedules it.
type SubmitRequest struct {
	DocumentID string // Generated when empty
	UserID     string
	SessionID  string
	SourcePath string
	Priority   int
}

// Submission is the result of Submit.
type Submission struct {
	Document     *core.Document
	Job          *core.Job
	Deduplicated bool
}

// Submit registers a document and enqueues it. Submitting a known document ID
// enqueues the existing document again, which is a no-op while its job runs.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if req.UserID == "" {
		return nil, ErrUserIDRequired
	}
	if req.SourcePath == "" {
		return nil, ErrSourcePathRequired
	}
	path, err := filepath.Abs(req.SourcePath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("source file: %w", err)
	}

	id := req.DocumentID
	if id == "" {
		id = uuid.NewString()
	}
	doc := &core.Document{
		ID:         id,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		SourcePath: path,
		Status:     core.DocumentUploaded,
	}
	err = e.repos.Documents.CreateDocument(ctx, doc)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		existing, err := e.repos.Documents.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing.UserID != req.UserID {
			return nil, fmt.Errorf("%w: %s", ErrNotOwner, id)
		}
		doc = existing
	case err != nil:
		return nil, err
	}

	job, dedup, err := e.scheduler.Enqueue(ctx, queue.EnqueueRequest{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		Priority:   req.Priority,
	})
	if err != nil {
		return nil, err
	}
	if !dedup {
		e.events.Publish(core.ProgressEvent{
			Type:       core.EventProgress,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			Stage:      core.StageQueued,
			Message:    "queued",
			Timestamp:  time.Now().UTC(),
		})
	}
	if doc, err = e.repos.Documents.GetDocument(ctx, doc.ID); err != nil {
		return nil, err
	}
	return &Submission{Document: doc, Job: job, Deduplicated: dedup}, nil
}

// SaveUpload copies r into the upload directory and returns the file path.
func (e *Engine) SaveUpload(name string, r io.Reader) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", ErrSourcePathRequired
	}
	dir := filepath.Join(e.uploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// SubmitDirectory submits every supported file directly inside dir.
func (e *Engine) SubmitDirectory(ctx context.Context, userID, sessionID, dir string) ([]*Submission, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []*Submission
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !e.extractors.Supported(path) {
			e.logger.Debug("skipping unsupported file", "path", path)
			continue
		}
		sub, err := e.Submit(ctx, SubmitRequest{UserID: userID, SessionID: sessionID, SourcePath: path})
		if err != nil {
			return out, fmt.Errorf("submitting %s: %w", path, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// Cancel stops processing of a document. A queued job is cancelled at once and
// its subscribers get a terminal event; a running job stops at its next stage.
func (e *Engine) Cancel(ctx context.Context, documentID string) (bool, error) {
	finalized, err := e.scheduler.Cancel(ctx, documentID)
	if err != nil {
		return false, err
	}
	if finalized {
		doc, err := e.repos.Documents.GetDocument(ctx, documentID)
		if err != nil {
			return true, err
		}
		e.events.Publish(core.ProgressEvent{
			Type:       core.EventProgress,
			DocumentID: documentID,
			UserID:     doc.UserID,
			Stage:      core.StageFailed,
			Message:    core.ErrCancelled.Error(),
			Timestamp:  time.Now().UTC(),
		})
	}
	return finalized, nil
}

// DocumentStatus combines a document with its job, if it has one.
type DocumentStatus struct {
	Document *core.Document
	Job      *core.JobStatus
}

// Status reports a document and its job.
func (e *Engine) Status(ctx context.Context, documentID string) (*DocumentStatus, error) {
	doc, err := e.repos.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	status := &DocumentStatus{Document: doc}
	job, err := e.scheduler.Status(ctx, documentID)
	switch {
	case err == nil:
		status.Job = job
	case !errors.Is(err, queue.ErrJobNotFound):
		return nil, err
	}
	return status, nil
}

// Documents lists a user's documents, oldest first.
func (e *Engine) Documents(ctx context.Context, userID string) ([]*core.Document, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return e.repos.Documents.ListDocuments(ctx, userID)
}

// Stats summarizes a user's collection.
func (e *Engine) Stats(ctx context.Context, userID string) (core.CollectionStats, error) {
	return e.vectors.Stats(ctx, userID)
}

// Pending returns the number of jobs waiting to run.
func (e *Engine) Pending(ctx context.Context) (int, error) {
	return e.scheduler.Pending(ctx)
}

// Query retrieves the k chunks most relevant to question from a user's
// collection, optionally restricted to one session.
func (e *Engine) Query(ctx context.Context, userID, question string, k int, sessionID string) ([]core.SearchResult, error) {
	return e.searcher.Search(ctx, userID, question, k, sessionID)
}

// QueryWithMonitor is Query with callbacks at each search stage.
func (e *Engine) QueryWithMonitor(ctx context.Context, userID, question string, k int, sessionID string, monitor search.SearchMonitor) ([]core.SearchResult, error) {
	return e.searcher.SearchWithMonitor(ctx, userID, question, k, sessionID, monitor)
}

// DeleteSession removes every chunk a session contributed.
func (e *Engine) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	return e.vectors.DeleteBySession(ctx, userID, sessionID)
}

// DeleteDocumentChunks removes every chunk stored for a document.
func (e *Engine) DeleteDocumentChunks(ctx context.Context, userID, documentID string) (int, error) {
	return e.vectors.DeleteByDocument(ctx, userID, documentID)
}

// Reembed regenerates every vector of a user's collection with the configured
// model, writing progress to w. It refuses to run once the engine is started.
func (e *Engine) Reembed(ctx context.Context, userID string, w io.Writer) (int, error) {
	e.mu.Lock()
	started, closed := e.started, e.closed
	e.mu.Unlock()
	switch {
	case closed:
		return 0, ErrClosed
	case started:
		return 0, ErrWorkersRunning
	}

	r, err := reembed.NewReembedder(e.vectors, e.embedder, reembed.Config{Model: e.cfg.Embedding.Model}, w)
	if err != nil {
		return 0, err
	}
	return r.Run(ctx, userID)
}

// Events exposes the progress broadcaster for subscriptions.
func (e *Engine) Events() *progress.Broadcaster {
	return e.events
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
