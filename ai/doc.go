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

// Package ai provides abstractions for the inference backends used by docvec.
//
// The Embedder interface is the single capability every backend exposes. The
// embedding client holds an ordered list of Embedders and tries them in
// sequence, so adding a backend never requires branching in the caller.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible servers (vLLM, LocalAI, OpenAI itself)
//   - ai/ollama: native Ollama embedding API
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors (openai.NewEmbedder, ollama.NewEmbedder) return the
// ai.Embedder interface. mock.NewMockEmbedder returns the concrete type so
// tests can inject behavior and assert on call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithKind(ai.KindOllama), ai.WithHost("http://localhost:11434"))
//	embedder, err := ollama.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vectors, err := embedder.EmbedTexts(ctx, "nomic-embed-text", []string{"Hello world"})
package ai
