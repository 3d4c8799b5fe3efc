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

// Package storage provides the storage abstraction layer for docvec.
//
// This package defines repository interfaces that decouple persistence from
// the scheduler, the pipeline and the vector store. The only implementation
// lives in storage/badger and keeps every record type in one BadgerDB.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - DocumentRepository: document metadata and the narrow status fields
//   - JobRepository: durable scheduler jobs, keyed by document ID
//   - VectorRepository: per-collection vector records
//   - VectorCache: embeddings with a time-to-live
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	docs := badger.NewDocumentRepository(backend)
//
// Use in tests with in-memory storage:
//
//	backend, err := badger.OpenBackend("", true)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
