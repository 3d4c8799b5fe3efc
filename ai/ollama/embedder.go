// Package ollama implements ai.Embedder against the native Ollama API.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docvec/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Embedder implements ai.Embedder using a local or remote Ollama server.
type Embedder struct {
	config *ai.Config
	mu     sync.Mutex
	models map[string]embeddings.Embedder
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder creates an Ollama-backed embedder.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if config == nil {
		return nil, fmt.Errorf("ai config required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Kind != ai.KindOllama {
		return nil, fmt.Errorf("ollama embedder cannot serve backend kind %q", config.Kind)
	}

	return &Embedder{
		config: config,
		models: make(map[string]embeddings.Embedder),
		logger: slog.Default().With("component", "ollama-embedder", "host", config.Host),
	}, nil
}

// Name identifies the backend.
func (e *Embedder) Name() string {
	return "ollama:" + e.config.Host
}

// EmbedTexts generates vector embeddings for texts with the given model.
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

	llm, err := ollama.New(
		ollama.WithServerURL(e.config.Host),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	e.models[model] = embedder
	return embedder, nil
}
