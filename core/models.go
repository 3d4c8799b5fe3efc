package core

import (
	"fmt"
	"time"
)

// DocumentStatus is the externally visible lifecycle state of a document.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentQueued     DocumentStatus = "queued"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further processing will happen for the document.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentCompleted || s == DocumentFailed
}

// JobState is the scheduler-owned state of a job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobRetrying  JobState = "retrying"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// IsTerminal reports whether the job has reached a final state.
// A document may be enqueued again once its job is terminal.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Document is the metadata record for an uploaded file.
// The pipeline and scheduler only ever touch the status fields.
type Document struct {
	ID           string `badgerhold:"key"`
	UserID       string `badgerhold:"index"`
	SessionID    string
	SourcePath   string
	Status       DocumentStatus `badgerhold:"index"`
	LastError    string
	Degraded     bool  // Some chunks could not be embedded
	FailedChunks []int // Chunk indexes omitted from storage
	ChunkCount   int   // Chunks stored by the last successful run
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StatusUpdate carries the narrow set of fields the pipeline may write on a Document.
type StatusUpdate struct {
	Status       DocumentStatus
	LastError    string
	Degraded     bool
	FailedChunks []int
	ChunkCount   int
}

// Job is a schedulable unit of work for one document.
// The document ID is the job key, which is what makes enqueue idempotent.
type Job struct {
	DocumentID      string `badgerhold:"key"`
	UserID          string
	Priority        int
	Attempt         int // Number of executions that ended in failure
	MaxAttempts     int
	State           JobState `badgerhold:"index"`
	Seq             uint64   // Enqueue order, FIFO tiebreak within a priority tier
	CancelRequested bool     // Set on an active job; the running pipeline stops at its next stage boundary
	NextRunAt       time.Time
	LastError       string
	EnqueuedAt      time.Time
	UpdatedAt       time.Time
}

// Runnable reports whether the job can be picked up at the given instant.
func (j *Job) Runnable(now time.Time) bool {
	switch j.State {
	case JobQueued:
		return true
	case JobRetrying:
		return !j.NextRunAt.After(now)
	default:
		return false
	}
}

// JobStatus is the caller-facing view of a job.
type JobStatus struct {
	DocumentID      string    `json:"documentId"`
	State           JobState  `json:"state"`
	Attempt         int       `json:"attempt"`
	CancelRequested bool      `json:"cancelRequested,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
	NextRunAt       time.Time `json:"nextRunAt,omitzero"`
}

// Chunk is a slice of extracted text. Offsets are in runes.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	CharStart  int
	CharEnd    int
}

// VectorRecord is an embedded chunk stored in a user's collection.
type VectorRecord struct {
	ID         string
	Collection string `badgerhold:"index"`
	UserID     string
	DocumentID string `badgerhold:"index"`
	SessionID  string
	Text       string
	Vector     []float32
	Timestamp  time.Time
	Metadata   map[string]string
}

// RecordID builds the vector record identifier for a chunk.
func RecordID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// Collection is a tenant-scoped partition of the vector store.
type Collection struct {
	Name      string `badgerhold:"key"`
	OwnerID   string
	CreatedAt time.Time
}

// CollectionStats summarizes a user's collection.
type CollectionStats struct {
	ChunkCount    int
	DocumentCount int
}

// Searchable reports whether retrieval can be offered for the collection.
func (s CollectionStats) Searchable() bool {
	return s.ChunkCount > 0
}

// Stage names a pipeline stage.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageStoring    Stage = "storing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// IsTerminal reports whether the stage ends a document's event stream.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// EventType distinguishes progress events from one-shot signals.
type EventType string

const (
	EventProgress           EventType = "progress"
	EventCollectionNonEmpty EventType = "collection_nonempty"
)

// ProgressEvent reports pipeline progress for a single document.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"documentId,omitempty"`
	UserID     string    `json:"userId"`
	Stage      Stage     `json:"stage,omitempty"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SearchResult is a ranked vector record.
type SearchResult struct {
	Record *VectorRecord
	Score  float32
}
