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

// Package search answers questions against a user's document collection.
//
// The Searcher embeds the question through the cached embedding client,
// queries the user's collection and reranks the nearest chunks:
//   - Semantic similarity from the vector index
//   - Verbatim keyword matching with stop-word filtering
//
// Search is unavailable until the user's collection holds at least one chunk.
package search
