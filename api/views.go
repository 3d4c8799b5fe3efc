package api

import (
	"time"

	"github.com/poiesic/docvec"
	"github.com/poiesic/docvec/core"
)

type submitRequest struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId" validate:"required"`
	SessionID  string `json:"sessionId"`
	Path       string `json:"path" validate:"required"`
	Priority   int    `json:"priority"`
}

type queryRequest struct {
	Question  string `json:"question" validate:"required"`
	K         int    `json:"k" validate:"min=0,max=100"`
	SessionID string `json:"sessionId"`
}

type documentView struct {
	ID           string              `json:"id"`
	UserID       string              `json:"userId"`
	SessionID    string              `json:"sessionId,omitempty"`
	Status       core.DocumentStatus `json:"status"`
	LastError    string              `json:"lastError,omitempty"`
	Degraded     bool                `json:"degraded,omitempty"`
	FailedChunks []int               `json:"failedChunks,omitempty"`
	ChunkCount   int                 `json:"chunkCount"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func newDocumentView(d *core.Document) documentView {
	return documentView{
		ID:           d.ID,
		UserID:       d.UserID,
		SessionID:    d.SessionID,
		Status:       d.Status,
		LastError:    d.LastError,
		Degraded:     d.Degraded,
		FailedChunks: d.FailedChunks,
		ChunkCount:   d.ChunkCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type submitResponse struct {
	Document     documentView  `json:"document"`
	State        core.JobState `json:"state"`
	Deduplicated bool          `json:"deduplicated"`
}

type statusResponse struct {
	Document documentView    `json:"document"`
	Job      *core.JobStatus `json:"job,omitempty"`
}

func newStatusResponse(s *docvec.DocumentStatus) statusResponse {
	return statusResponse{Document: newDocumentView(s.Document), Job: s.Job}
}

type cancelResponse struct {
	DocumentID string `json:"documentId"`
	Finalized  bool   `json:"finalized"`
}

type statsResponse struct {
	UserID        string `json:"userId"`
	ChunkCount    int    `json:"chunkCount"`
	DocumentCount int    `json:"documentCount"`
	Searchable    bool   `json:"searchable"`
}

type resultView struct {
	DocumentID string            `json:"documentId"`
	SessionID  string            `json:"sessionId,omitempty"`
	Text       string            `json:"text"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type queryResponse struct {
	Results []resultView `json:"results"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}
