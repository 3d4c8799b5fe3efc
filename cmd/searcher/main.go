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

// Command searcher runs one traced query against a docvec store.
//
// It reads the config path from DOCVEC_CONFIG and the user from DOCVEC_USER.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/docvec"
	"github.com/poiesic/docvec/config"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/search"
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

// traceMonitor prints each search step with the time since the query started.
type traceMonitor struct {
	w     io.Writer
	start time.Time
}

var _ search.SearchMonitor = (*traceMonitor)(nil)

func (m *traceMonitor) step(format string, args ...any) {
	fmt.Fprintf(m.w, "[%6s] %s\n", time.Since(m.start).Round(time.Millisecond), fmt.Sprintf(format, args...))
}

func (m *traceMonitor) Start(userID, question string) {
	m.start = time.Now()
	m.step("searching %s for %q", userID, question)
}

func (m *traceMonitor) AfterEmbedding(dims int) {
	m.step("embedded question (%d dims)", dims)
}

func (m *traceMonitor) AfterVectorSearch(results []core.SearchResult) {
	m.step("%d candidates", len(results))
}

func (m *traceMonitor) VerbatimHit(record *core.VectorRecord) {
	m.step("verbatim match in %s", record.ID)
}

func (m *traceMonitor) Finish(results []core.SearchResult) {
	m.step("done")
}

func main() {
	user := os.Getenv("DOCVEC_USER")
	if user == "" {
		user = "default"
	}
	question := "lantern"
	if len(os.Args) > 1 {
		question = strings.Join(os.Args[1:], " ")
	}

	if err := run(context.Background(), os.Stdout, os.Getenv("DOCVEC_CONFIG"), user, question); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, configPath, user, question string, opts ...docvec.EngineOption) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	engine, err := docvec.NewEngine(cfg, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.QueryWithMonitor(ctx, user, question, search.DefaultK, "", &traceMonitor{w: w})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(w, "%d: '%s' (%s)[%0.3f]\n", i, hit.Record.Text, hit.Record.ID, hit.Score)
	}
	return nil
}
