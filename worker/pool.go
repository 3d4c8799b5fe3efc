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

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/ingestion"
	"github.com/poiesic/docvec/queue"
	"github.com/poiesic/docvec/retry"
	"golang.org/x/sync/semaphore"
)

const dispatchErrorDelay = time.Second

var (
	// ErrQueueRequired is returned when a job queue is not provided.
	ErrQueueRequired = errors.New("job queue required")

	// ErrRunnerRequired is returned when a job runner is not provided.
	ErrRunnerRequired = errors.New("job runner required")

	// ErrAlreadyStarted is returned when Start is called on a running pool.
	ErrAlreadyStarted = errors.New("worker pool already started")
)

// Queue is the part of the scheduler the pool drives.
type Queue interface {
	Next(ctx context.Context) (*core.Job, error)
	Complete(ctx context.Context, documentID string, outcome queue.Outcome) (*core.Job, error)
	Fail(ctx context.Context, documentID string, cause error) (*core.Job, error)
	Release(ctx context.Context, documentID string) error
}

// Runner processes one job.
type Runner interface {
	Run(ctx context.Context, job *core.Job) (queue.Outcome, error)
}

var (
	_ Queue  = (*queue.Scheduler)(nil)
	_ Runner = (*ingestion.Pipeline)(nil)
)

type discardPublisher struct{}

func (discardPublisher) Publish(core.ProgressEvent) {}

// Pool runs jobs from a Queue on a fixed number of executors.
type Pool struct {
	queue  Queue
	runner Runner
	events ingestion.Publisher
	size   int
	logger *slog.Logger

	executors *ants.Pool
	slots     *semaphore.Weighted
	inflight  sync.WaitGroup

	mu         sync.Mutex
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	dispatched chan struct{}
}

// Option configures a Pool.
type Option func(*Pool) error

// WithSize sets the number of executors.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithSize(size int) Option {
	return func(p *Pool) error {
		p.size = max(size, 1)
		return nil
	}
}

// WithPublisher sets where terminal and retry events go.
func WithPublisher(pub ingestion.Publisher) Option {
	return func(p *Pool) error {
		if pub == nil {
			pub = discardPublisher{}
		}
		p.events = pub
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "worker")
		return nil
	}
}

// NewPool creates a worker pool. Call Start to begin processing.
func NewPool(q Queue, runner Runner, opts ...Option) (*Pool, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if runner == nil {
		return nil, ErrRunnerRequired
	}

	p := &Pool{
		queue:  q,
		runner: runner,
		events: discardPublisher{},
		size:   max(runtime.NumCPU()/2, 1),
		logger: slog.Default().With("component", "worker"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	executors, err := ants.NewPool(p.size, ants.WithPanicHandler(func(v any) {
		p.logger.Error("executor panicked outside a job", "panic", v)
	}))
	if err != nil {
		return nil, err
	}
	p.executors = executors
	p.slots = semaphore.NewWeighted(int64(p.size))
	return p, nil
}

// Size returns the number of executors.
func (p *Pool) Size() int {
	return p.size
}

// Start begins pulling jobs. Jobs run under ctx; cancelling it interrupts
// running jobs, which are handed back to the queue.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	dispatchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.dispatched = make(chan struct{})
	go p.dispatch(ctx, dispatchCtx)

	p.logger.Info("worker pool started", "size", p.size)
	return nil
}

// Stop stops taking new jobs and waits for running jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	p.mu.Unlock()

	<-p.dispatched
	p.inflight.Wait()
	p.executors.Release()
	p.logger.Info("worker pool stopped")
}

// dispatch hands jobs to executors until dispatchCtx ends.
func (p *Pool) dispatch(jobCtx, dispatchCtx context.Context) {
	defer close(p.dispatched)

	for {
		if err := p.slots.Acquire(dispatchCtx, 1); err != nil {
			return
		}

		job, err := p.queue.Next(dispatchCtx)
		if err != nil {
			p.slots.Release(1)
			if dispatchCtx.Err() != nil {
				return
			}
			p.logger.Error("failed to fetch next job", "err", err)
			if retry.Sleep(dispatchCtx, dispatchErrorDelay) != nil {
				return
			}
			continue
		}

		p.inflight.Add(1)
		err = p.executors.Submit(func() {
			defer p.inflight.Done()
			defer p.slots.Release(1)
			p.execute(jobCtx, job)
		})
		if err != nil {
			p.inflight.Done()
			p.slots.Release(1)
			p.logger.Error("failed to submit job", "document", job.DocumentID, "err", err)
			p.release(jobCtx, job)
		}
	}
}

// execute runs one job and reports the result. A panic hands the job back
// to the queue without counting the attempt.
func (p *Pool) execute(ctx context.Context, job *core.Job) {
	logger := p.logger.With("document", job.DocumentID, "attempt", job.Attempt+1)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			p.release(ctx, job)
		}
	}()

	outcome, err := p.runner.Run(ctx, job)
	reportCtx := context.WithoutCancel(ctx)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Info("job interrupted by shutdown")
		p.release(ctx, job)
		return
	}

	if err != nil {
		updated, ferr := p.queue.Fail(reportCtx, job.DocumentID, err)
		if ferr != nil {
			logger.Error("failed to record job failure", "err", ferr, "cause", err)
			return
		}
		p.publishResult(updated, outcome)
		return
	}

	updated, cerr := p.queue.Complete(reportCtx, job.DocumentID, outcome)
	if cerr != nil {
		logger.Error("failed to record job completion", "err", cerr)
		return
	}
	p.publishResult(updated, outcome)
}

func (p *Pool) release(ctx context.Context, job *core.Job) {
	if err := p.queue.Release(context.WithoutCancel(ctx), job.DocumentID); err != nil {
		p.logger.Error("failed to release job", "document", job.DocumentID, "err", err)
	}
}

// publishResult emits the event that matches the job's new state.
// Percentages of failure events are raised to the last reported value by the broadcaster.
func (p *Pool) publishResult(job *core.Job, outcome queue.Outcome) {
	event := core.ProgressEvent{
		Type:       core.EventProgress,
		DocumentID: job.DocumentID,
		UserID:     job.UserID,
		Timestamp:  time.Now().UTC(),
	}
	switch job.State {
	case core.JobCompleted:
		event.Stage = core.StageDone
		event.Percent = ingestion.PercentDone
		event.Message = fmt.Sprintf("stored %d chunks", outcome.ChunkCount)
		if outcome.Degraded {
			event.Message += fmt.Sprintf(", %d failed to embed", len(outcome.FailedChunks))
		}
	case core.JobFailed, core.JobCancelled:
		event.Stage = core.StageFailed
		event.Message = job.LastError
	case core.JobRetrying:
		event.Stage = core.StageQueued
		event.Message = fmt.Sprintf("attempt %d of %d failed, retrying at %s: %s",
			job.Attempt, job.MaxAttempts, job.NextRunAt.Format(time.RFC3339), job.LastError)
	default:
		return
	}
	p.events.Publish(event)
}
