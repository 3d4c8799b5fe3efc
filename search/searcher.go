package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/embedding"
	"github.com/poiesic/docvec/vectorstore"
)

const (
	// DefaultK is the number of chunks returned when the caller asks for none.
	DefaultK = 5

	// verbatimBoost is added to chunks containing every query keyword.
	verbatimBoost = 0.3

	// overfetch widens the vector search so reranking has candidates to promote.
	overfetch = 2
)

// Searcher finds the chunks of a user's documents most relevant to a question.
type Searcher struct {
	embedder *embedding.Client
	vectors  *vectorstore.Manager
	model    string
	minScore float32
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithModel sets the embedding model. It must match the model used at ingestion.
func WithModel(model string) Option {
	return func(s *Searcher) error {
		if model == "" {
			return embedding.ErrModelRequired
		}
		s.model = model
		return nil
	}
}

// WithMinScore drops semantic matches whose similarity is below score.
func WithMinScore(score float32) Option {
	return func(s *Searcher) error {
		s.minScore = score
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "search")
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(embedder *embedding.Client, vectors *vectorstore.Manager, opts ...Option) (*Searcher, error) {
	if embedder == nil {
		return nil, ErrEmbeddingClientRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}

	s := &Searcher{
		embedder: embedder,
		vectors:  vectors,
		model:    "nomic-embed-text",
		logger:   slog.Default().With("component", "search"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search returns up to k chunks from userID's collection, best first.
// A non-empty sessionID restricts results to that session. k <= 0 means DefaultK.
func (s *Searcher) Search(ctx context.Context, userID, question string, k int, sessionID string) ([]core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, userID, question, k, sessionID, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, userID, question string, k int, sessionID string, monitor SearchMonitor) ([]core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = DefaultK
	}

	monitor.Start(userID, question)

	// 1. Refuse to search an empty collection
	stats, err := s.vectors.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !stats.Searchable() {
		return nil, ErrNoDocuments
	}

	// 2. Embed the question
	vector, err := s.embedder.Embed(ctx, question, s.model)
	if err != nil {
		s.logger.Error("error generating embedding for question", "user", userID, "err", err)
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	monitor.AfterEmbedding(len(vector))

	// 3. Semantic search
	matches, err := s.vectors.Query(ctx, userID, vector, k*overfetch, sessionID)
	if err != nil {
		s.logger.Error("error querying collection", "user", userID, "err", err)
		return nil, err
	}
	monitor.AfterVectorSearch(matches)

	// 4. Rerank with the verbatim boost
	results := make([]core.SearchResult, 0, len(matches))
	for _, match := range matches {
		if match.Score < s.minScore {
			continue
		}
		score := match.Score
		if containsAllQueryWords(match.Record.Text, question) {
			score += verbatimBoost
			monitor.VerbatimHit(match.Record)
		}
		results = append(results, core.SearchResult{Record: match.Record, Score: score})
	}

	// Sort by score descending
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	monitor.Finish(results)

	return results, nil
}
