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

// Package queue implements the durable job scheduler.
//
// Jobs are keyed by document ID, which makes enqueueing idempotent: while a
// document has a queued, active or retrying job, further enqueues return that
// job instead of creating another. All state transitions are serialized by a
// single mutex and persisted before they become visible, so at most one job
// per document is ever active.
//
// Lifecycle:
//
//	queued -> active -> completed
//	            |  \-> retrying -> active ...
//	            |  \-> failed
//	            \-> queued (Release, Recover)
//	queued/retrying/active -> cancelled (Cancel)
//
// The scheduler also owns the status fields of the Document record and keeps
// them in step with the job.
package queue
