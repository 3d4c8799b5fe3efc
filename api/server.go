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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/poiesic/docvec"
	"github.com/poiesic/docvec/progress"
	"github.com/poiesic/docvec/queue"
	"github.com/poiesic/docvec/search"
	"github.com/poiesic/docvec/storage"
	"github.com/poiesic/docvec/vectorstore"
)

const (
	maxUploadBytes  = 64 << 20
	maxJSONBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// ErrEngineRequired is returned when a Server is created without an engine.
var ErrEngineRequired = errors.New("engine required")

// Server routes HTTP requests to an Engine.
type Server struct {
	engine   *docvec.Engine
	mux      *http.ServeMux
	progress *progress.Handler
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "api")
		return nil
	}
}

// NewServer creates a Server for engine.
func NewServer(engine *docvec.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}
	s := &Server{
		engine:   engine,
		mux:      http.NewServeMux(),
		validate: validator.New(),
		logger:   slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.progress = progress.NewHandler(engine.Events(), s.logger)

	s.mux.HandleFunc("POST /documents", s.handleSubmit)
	s.mux.HandleFunc("GET /documents/{id}", s.handleStatus)
	s.mux.HandleFunc("DELETE /documents/{id}/job", s.handleCancel)
	s.mux.HandleFunc("GET /users/{user}/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /users/{user}/stats", s.handleStats)
	s.mux.HandleFunc("POST /users/{user}/query", s.handleQuery)
	s.mux.HandleFunc("DELETE /users/{user}/sessions/{session}", s.handleDeleteSession)
	s.mux.HandleFunc("DELETE /users/{user}/documents/{id}/chunks", s.handleDeleteDocumentChunks)
	s.mux.Handle("GET /ws", s.progress)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr, "instance", s.progress.InstanceID())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var (
		req submitRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = s.readUpload(w, r)
	} else {
		err = s.decode(w, r, &req)
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, validationError(err))
		return
	}

	sub, err := s.engine.Submit(r.Context(), docvec.SubmitRequest{
		DocumentID: req.DocumentID,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		SourcePath: req.Path,
		Priority:   req.Priority,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusAccepted
	if sub.Deduplicated {
		status = http.StatusOK
	}
	s.writeJSON(w, status, submitResponse{
		Document:     newDocumentView(sub.Document),
		State:        sub.Job.State,
		Deduplicated: sub.Deduplicated,
	})
}

// readUpload saves the "file" part and reads the remaining fields from the form.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (submitRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return submitRequest{}, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return submitRequest{}, err
	}
	defer file.Close()

	path, err := s.engine.SaveUpload(header.Filename, file)
	if err != nil {
		return submitRequest{}, err
	}
	req := submitRequest{
		DocumentID: r.FormValue("documentId"),
		UserID:     r.FormValue("userId"),
		SessionID:  r.FormValue("sessionId"),
		Path:       path,
	}
	if p := r.FormValue("priority"); p != "" {
		if req.Priority, err = strconv.Atoi(p); err != nil {
			return submitRequest{}, fmt.Errorf("invalid priority %q", p)
		}
	}
	return req, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStatusResponse(status))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	finalized, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusAccepted
	if finalized {
		status = http.StatusOK
	}
	s.writeJSON(w, status, cancelResponse{DocumentID: id, Finalized: finalized})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.Documents(r.Context(), r.PathValue("user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, newDocumentView(d))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	stats, err := s.engine.Stats(r.Context(), user)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		UserID:        user,
		ChunkCount:    stats.ChunkCount,
		DocumentCount: stats.DocumentCount,
		Searchable:    stats.Searchable(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, validationError(err))
		return
	}

	results, err := s.engine.Query(r.Context(), r.PathValue("user"), req.Question, req.K, req.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := queryResponse{Results: make([]resultView, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, resultView{
			DocumentID: res.Record.DocumentID,
			SessionID:  res.Record.SessionID,
			Text:       res.Record.Text,
			Score:      res.Score,
			Metadata:   res.Record.Metadata,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.DeleteSession(r.Context(), r.PathValue("user"), r.PathValue("session"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

func (s *Server) handleDeleteDocumentChunks(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.DeleteDocumentChunks(r.Context(), r.PathValue("user"), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%s failed %q validation", verrs[0].Field(), verrs[0].Tag())
	}
	return err
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, docvec.ErrNotOwner), errors.Is(err, vectorstore.ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, queue.ErrJobFinished), errors.Is(err, search.ErrNoDocuments):
		return http.StatusConflict
	case errors.Is(err, docvec.ErrUserIDRequired),
		errors.Is(err, docvec.ErrSourcePathRequired),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, search.ErrEmptyQuestion),
		errors.Is(err, vectorstore.ErrUserRequired),
		errors.Is(err, vectorstore.ErrSessionRequired),
		errors.Is(err, vectorstore.ErrDocumentRequired),
		errors.Is(err, vectorstore.ErrInvalidK):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}
