// Package mock provides a test double implementation of ai.Embedder.
//
// The mock lets tests run without an inference server and enables
// controlled, deterministic behavior, including injected failures.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	embedder := mock.NewMockEmbedder()
//	vectors, err := embedder.EmbedTexts(ctx, "model", []string{"test"})
//
//	// Custom behavior injection
//	failing := mock.NewMockEmbedder().
//	    WithEmbedTextsFunc(func(ctx context.Context, model string, texts []string) ([][]float32, error) {
//	        return nil, errors.New("backend down")
//	    })
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
// MockEmbedder returns deterministic unit vectors derived from a hash of the
// model and text, so identical inputs always embed identically.
package mock
