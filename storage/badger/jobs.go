package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/storage"
	"github.com/timshannon/badgerhold/v4"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	seq, err := backend.GetSequence(jobSeqName)
	if err != nil {
		return nil, err
	}
	return &JobRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the enqueue sequence.
func (r *JobRepository) Close() error {
	return r.seq.Release()
}

// GetJob retrieves the job for a document.
func (r *JobRepository) GetJob(ctx context.Context, documentID string) (*core.Job, error) {
	var job core.Job
	if err := r.backend.Store().Get(documentID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// SaveJob inserts or replaces a job.
func (r *JobRepository) SaveJob(ctx context.Context, job *core.Job) error {
	job.UpdatedAt = time.Now().UTC()
	return r.backend.retryConflicts(func() error {
		return r.backend.Store().Upsert(job.DocumentID, job)
	})
}

// FindJobs returns jobs in any of the given states.
func (r *JobRepository) FindJobs(ctx context.Context, states ...core.JobState) ([]*core.Job, error) {
	if len(states) == 0 {
		return nil, storage.ErrInvalidQuery
	}
	values := make([]any, len(states))
	for i, s := range states {
		values[i] = s
	}

	var jobs []*core.Job
	if err := r.backend.Store().Find(&jobs, badgerhold.Where("State").In(values...)); err != nil {
		return nil, err
	}
	return jobs, nil
}

// NextSeq returns a strictly increasing enqueue sequence number.
func (r *JobRepository) NextSeq() (uint64, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		return r.seq.Next()
	}
	return next, nil
}
