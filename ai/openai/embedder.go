package openai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docvec/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// One langchaingo client is created lazily per model.
type Embedder struct {
	config *ai.Config
	mu     sync.Mutex
	models map[string]embeddings.Embedder
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// newEmbedder is an internal constructor that returns the concrete type.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if config == nil {
		return nil, fmt.Errorf("ai config required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Kind != ai.KindOpenAI {
		return nil, fmt.Errorf("openai embedder cannot serve backend kind %q", config.Kind)
	}

	return &Embedder{
		config: config,
		models: make(map[string]embeddings.Embedder),
		logger: slog.Default().With("component", "openai-embedder", "host", config.Host),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// Name identifies the backend.
func (e *Embedder) Name() string {
	return "openai:" + e.config.Host
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	embedder, err := e.forModel(model)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("generating embeddings for texts", "model", model, "count", len(texts))

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "model", model, "count", len(texts), "err", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding result mismatch. expected %d, received %d", len(texts), len(vectors))
	}

	return vectors, nil
}

func (e *Embedder) forModel(model string) (embeddings.Embedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if embedder, ok := e.models[model]; ok {
		return embedder, nil
	}

	client, err := openai.New(
		openai.WithBaseURL(e.config.Host),
		openai.WithToken(e.config.Token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	e.models[model] = embedder
	return embedder, nil
}
