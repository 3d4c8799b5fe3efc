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

// Package embedding turns batches of chunk texts into vectors.
//
// A Client consults the embedding cache first and sends only the misses to the
// inference backend, grouped into sub-batches that run in parallel up to a
// configured limit. Every backend request passes through a token-bucket rate
// limiter, so adding workers never raises the request rate.
//
// A failing sub-batch is retried once on the primary backend, then sent to
// each fallback backend in order. If all of them fail, the texts of that
// sub-batch are reported as failures rather than failing the whole batch.
// Callers decide whether a partial result is acceptable.
//
// Vectors are normalized to unit length before they are cached or returned.
package embedding
