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

package ingestion

import (
	"context"

	"github.com/poiesic/docvec/core"
)

// Percentages published as each stage starts.
const (
	percentExtracting    = 10
	percentChunking      = 25
	percentEmbeddingFrom = 40
	percentEmbeddingTo   = 75
	percentStoring       = 85

	// PercentDone is the percentage of a finished document.
	PercentDone = 100
)

// stage is an internal interface for one step of a pipeline run.
// Stages run in order and hand results to each other through the run.
type stage interface {
	// name identifies the stage in events and errors.
	name() core.Stage

	// percent is the progress reported when the stage starts.
	percent() int

	// execute does the stage's work. A returned error fails the run.
	execute(ctx context.Context, r *run) error
}

// run is the state of one pipeline execution.
type run struct {
	job    *core.Job
	doc    *core.Document
	report func(stage core.Stage, percent int, message string)

	text    string
	pages   int
	chunks  []core.Chunk
	vectors [][]float32 // Aligned with chunks; nil where embedding failed
	failed  []int

	inserted       int
	becameNonEmpty bool
}
