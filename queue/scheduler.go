package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/retry"
	"github.com/poiesic/docvec/storage"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = time.Second
	DefaultBackoffMax   = time.Minute
	DefaultPollInterval = time.Second
)

// EnqueueRequest asks for a document to be processed.
type EnqueueRequest struct {
	DocumentID string
	UserID     string
	Priority   int // Higher runs first
}

// Outcome is what a finished pipeline run reports to Complete.
type Outcome struct {
	Cancelled    bool
	Degraded     bool
	FailedChunks []int
	ChunkCount   int
}

// Scheduler hands out jobs one at a time and records their results.
type Scheduler struct {
	jobs          storage.JobRepository
	docs          storage.DocumentRepository
	maxAttempts   int
	backoffBase   time.Duration
	backoffMax    time.Duration
	pollInterval  time.Duration
	retryDegraded bool
	now           func() time.Time
	logger        *slog.Logger

	mu     sync.Mutex
	notify chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithMaxAttempts sets how many executions a job gets before it fails.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be positive, got %d", n)
		}
		s.maxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry delay base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Scheduler) error {
		if base < 0 || max < 0 {
			return errors.New("backoff durations must not be negative")
		}
		s.backoffBase = base
		s.backoffMax = max
		return nil
	}
}

// WithPollInterval bounds how long Next sleeps between store scans.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		s.pollInterval = d
		return nil
	}
}

// WithRetryDegraded requeues degraded runs while attempts remain.
func WithRetryDegraded(enabled bool) Option {
	return func(s *Scheduler) error {
		s.retryDegraded = enabled
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		s.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "scheduler")
		return nil
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(jobs storage.JobRepository, docs storage.DocumentRepository, opts ...Option) (*Scheduler, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if docs == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	s := &Scheduler{
		jobs:         jobs,
		docs:         docs,
		maxAttempts:  DefaultMaxAttempts,
		backoffBase:  DefaultBackoffBase,
		backoffMax:   DefaultBackoffMax,
		pollInterval: DefaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       slog.Default().With("component", "scheduler"),
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// getJob must be called with mu held.
func (s *Scheduler) getJob(ctx context.Context, documentID string) (*core.Job, error) {
	job, err := s.jobs.GetJob(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, documentID)
	}
	return job, err
}

// Enqueue schedules a document. If the document already has a non-terminal
// job, that job is returned with deduplicated set and nothing changes.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*core.Job, bool, error) {
	if req.DocumentID == "" {
		return nil, false, ErrDocumentIDRequired
	}
	if req.UserID == "" {
		return nil, false, ErrUserIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.jobs.GetJob(ctx, req.DocumentID)
	switch {
	case err == nil && !existing.State.IsTerminal():
		s.logger.Debug("enqueue deduplicated", "document", req.DocumentID, "state", existing.State)
		return existing, true, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, false, err
	}

	doc, err := s.docs.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, false, fmt.Errorf("loading document %s: %w", req.DocumentID, err)
	}
	if doc.UserID != req.UserID {
		return nil, false, fmt.Errorf("document %s belongs to another user", req.DocumentID)
	}

	seq, err := s.jobs.NextSeq()
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	job := &core.Job{
		DocumentID:  req.DocumentID,
		UserID:      req.UserID,
		Priority:    req.Priority,
		MaxAttempts: s.maxAttempts,
		State:       core.JobQueued,
		Seq:         seq,
		EnqueuedAt:  now,
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, false, err
	}
	if err := s.docs.UpdateStatus(ctx, job.DocumentID, core.StatusUpdate{Status: core.DocumentQueued}); err != nil {
		return nil, false, err
	}

	s.logger.Info("job enqueued", "document", job.DocumentID, "user", job.UserID, "priority", job.Priority)
	s.wake()
	return job, false, nil
}

// Next blocks until a job is runnable, marks it active and returns it.
// Higher priority wins; within a priority, jobs run in enqueue order.
func (s *Scheduler) Next(ctx context.Context) (*core.Job, error) {
	for {
		job, wait, err := s.claim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claim activates the best runnable job, or reports how long to wait.
func (s *Scheduler) claim(ctx context.Context) (*core.Job, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates, err := s.jobs.FindJobs(ctx, core.JobQueued, core.JobRetrying)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	wait := s.pollInterval
	var runnable []*core.Job
	for _, job := range candidates {
		if job.Runnable(now) {
			runnable = append(runnable, job)
		} else if d := job.NextRunAt.Sub(now); d < wait {
			wait = d
		}
	}
	if len(runnable) == 0 {
		return nil, max(wait, time.Millisecond), nil
	}

	best := slices.MinFunc(runnable, func(a, b *core.Job) int {
		return cmp.Or(cmp.Compare(b.Priority, a.Priority), cmp.Compare(a.Seq, b.Seq))
	})
	best.State = core.JobActive
	if err := s.jobs.SaveJob(ctx, best); err != nil {
		return nil, 0, err
	}
	if err := s.docs.UpdateStatus(ctx, best.DocumentID, core.StatusUpdate{
		Status:    core.DocumentProcessing,
		LastError: best.LastError,
	}); err != nil {
		s.logger.Warn("failed to mark document processing", "document", best.DocumentID, "err", err)
	}

	s.logger.Debug("job claimed", "document", best.DocumentID, "attempt", best.Attempt+1)
	return best, 0, nil
}

// activeJob loads job and checks that it is still running, with mu held.
func (s *Scheduler) activeJob(ctx context.Context, documentID string) (*core.Job, error) {
	job, err := s.getJob(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if job.State != core.JobActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotActive, documentID, job.State)
	}
	return job, nil
}

// Complete records a finished run. A cancellation requested after the run
// finished is dropped and the job completes.
func (s *Scheduler) Complete(ctx context.Context, documentID string, outcome Outcome) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if outcome.Cancelled {
		return job, s.finalizeCancelled(ctx, job)
	}
	if job.CancelRequested {
		// The run already passed its last cancellation check and its records are stored
		s.logger.Info("cancellation arrived after run finished", "document", documentID)
		job.CancelRequested = false
	}

	if outcome.Degraded && s.retryDegraded && job.Attempt+1 < job.MaxAttempts {
		reason := fmt.Sprintf("degraded: %d chunks failed to embed", len(outcome.FailedChunks))
		delay := s.scheduleRetry(job, reason)
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			return nil, err
		}
		if err := s.docs.UpdateStatus(ctx, documentID, core.StatusUpdate{
			Status:       core.DocumentQueued,
			LastError:    reason,
			Degraded:     true,
			FailedChunks: outcome.FailedChunks,
			ChunkCount:   outcome.ChunkCount,
		}); err != nil {
			return nil, err
		}
		s.logger.Info("degraded job requeued", "document", documentID, "attempt", job.Attempt, "delay", delay)
		s.wake()
		return job, nil
	}

	job.State = core.JobCompleted
	job.LastError = ""
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.docs.UpdateStatus(ctx, documentID, core.StatusUpdate{
		Status:       core.DocumentCompleted,
		Degraded:     outcome.Degraded,
		FailedChunks: outcome.FailedChunks,
		ChunkCount:   outcome.ChunkCount,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("job completed", "document", documentID, "chunks", outcome.ChunkCount, "degraded", outcome.Degraded)
	return job, nil
}

// Fail records a failed run. Retryable errors are requeued with exponential
// backoff until the job has used all its attempts.
func (s *Scheduler) Fail(ctx context.Context, documentID string, cause error) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if job.CancelRequested || errors.Is(cause, core.ErrCancelled) {
		return job, s.finalizeCancelled(ctx, job)
	}

	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	if core.IsRetryable(cause) && job.Attempt+1 < job.MaxAttempts {
		delay := s.scheduleRetry(job, reason)
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			return nil, err
		}
		if err := s.docs.UpdateStatus(ctx, documentID, core.StatusUpdate{
			Status:    core.DocumentQueued,
			LastError: reason,
		}); err != nil {
			return nil, err
		}
		s.logger.Warn("job failed, will retry", "document", documentID, "attempt", job.Attempt, "delay", delay, "err", reason)
		s.wake()
		return job, nil
	}

	job.Attempt++
	job.State = core.JobFailed
	job.LastError = reason
	job.NextRunAt = time.Time{}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.docs.UpdateStatus(ctx, documentID, core.StatusUpdate{
		Status:    core.DocumentFailed,
		LastError: reason,
	}); err != nil {
		return nil, err
	}
	s.logger.Error("job failed", "document", documentID, "attempts", job.Attempt, "err", reason)
	return job, nil
}

// scheduleRetry moves job to retrying and returns the delay it waits.
// The delay is base * 2^attempt for the attempt that just failed.
func (s *Scheduler) scheduleRetry(job *core.Job, reason string) time.Duration {
	delay := retry.Backoff(s.backoffBase, job.Attempt, s.backoffMax)
	job.Attempt++
	job.State = core.JobRetrying
	job.LastError = reason
	job.NextRunAt = s.now().Add(delay)
	return delay
}

// finalizeCancelled must be called with mu held.
func (s *Scheduler) finalizeCancelled(ctx context.Context, job *core.Job) error {
	job.State = core.JobCancelled
	job.CancelRequested = false
	job.LastError = core.ErrCancelled.Error()
	job.NextRunAt = time.Time{}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := s.docs.UpdateStatus(ctx, job.DocumentID, core.StatusUpdate{
		Status:    core.DocumentFailed,
		LastError: core.ErrCancelled.Error(),
	}); err != nil {
		return err
	}
	s.logger.Info("job cancelled", "document", job.DocumentID)
	return nil
}

// Cancel stops a job. Queued and retrying jobs are finalized at once and
// Cancel reports finalized. An active job is flagged and finalized when its
// run reports back.
func (s *Scheduler) Cancel(ctx context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(ctx, documentID)
	if err != nil {
		return false, err
	}
	switch {
	case job.State.IsTerminal():
		return false, fmt.Errorf("%w: %s is %s", ErrJobFinished, documentID, job.State)
	case job.State == core.JobActive:
		job.CancelRequested = true
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			return false, err
		}
		s.logger.Info("cancellation requested", "document", documentID)
		return false, nil
	default:
		return true, s.finalizeCancelled(ctx, job)
	}
}

// IsCancelled reports whether cancellation was requested for a running job.
func (s *Scheduler) IsCancelled(ctx context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(ctx, documentID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested || job.State == core.JobCancelled, nil
}

// Release hands an active job back to the queue without counting the attempt.
// Workers call it when a run crashed rather than failed.
func (s *Scheduler) Release(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(ctx, documentID)
	if err != nil {
		return err
	}
	if job.CancelRequested {
		return s.finalizeCancelled(ctx, job)
	}
	job.State = core.JobQueued
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := s.docs.UpdateStatus(ctx, documentID, core.StatusUpdate{
		Status:    core.DocumentQueued,
		LastError: job.LastError,
	}); err != nil {
		return err
	}
	s.logger.Warn("job released", "document", documentID)
	s.wake()
	return nil
}

// Recover requeues every job left active by a previous process and
// returns how many it touched. Call it once before starting workers.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.jobs.FindJobs(ctx, core.JobActive)
	if err != nil {
		return 0, err
	}
	for _, job := range active {
		if job.CancelRequested {
			if err := s.finalizeCancelled(ctx, job); err != nil {
				return 0, err
			}
			continue
		}
		job.State = core.JobQueued
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			return 0, err
		}
		if err := s.docs.UpdateStatus(ctx, job.DocumentID, core.StatusUpdate{
			Status:    core.DocumentQueued,
			LastError: job.LastError,
		}); err != nil {
			return 0, err
		}
	}
	if len(active) > 0 {
		s.logger.Info("recovered interrupted jobs", "jobs", len(active))
		s.wake()
	}
	return len(active), nil
}

// Status reports a job's state.
func (s *Scheduler) Status(ctx context.Context, documentID string) (*core.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &core.JobStatus{
		DocumentID:      job.DocumentID,
		State:           job.State,
		Attempt:         job.Attempt,
		CancelRequested: job.CancelRequested,
		LastError:       job.LastError,
		NextRunAt:       job.NextRunAt,
	}, nil
}

// Pending returns the number of queued and retrying jobs.
func (s *Scheduler) Pending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.jobs.FindJobs(ctx, core.JobQueued, core.JobRetrying)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}
