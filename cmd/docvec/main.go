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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docvec"
	"github.com/poiesic/docvec/api"
	"github.com/poiesic/docvec/config"
	"github.com/poiesic/docvec/progress"
)

// engineOptions is applied to every engine the commands open.
var engineOptions []docvec.EngineOption

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docvec",
		Usage: "Turn documents into searchable vector collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				EnvVars: []string{"DOCVEC_CONFIG"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run workers and the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides server.address)",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Submit files, or every supported file in a directory",
				ArgsUsage: "[file...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "session",
						Usage: "Session the documents belong to",
					},
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Usage:   "Directory to submit",
					},
					&cli.IntFlag{
						Name:  "priority",
						Usage: "Job priority, higher runs first",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Process the documents now and report progress",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show a document's status",
				ArgsUsage: "<document-id>",
				Action:    statusCommand,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a document's job",
				ArgsUsage: "<document-id>",
				Action:    cancelCommand,
			},
			{
				Name:   "stats",
				Usage:  "Summarize a user's collection",
				Action: statsCommand,
				Flags:  []cli.Flag{userFlag()},
			},
			{
				Name:      "query",
				Usage:     "Retrieve the chunks most relevant to a question",
				ArgsUsage: "<question>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					userFlag(),
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of results",
						Value: 5,
					},
					&cli.StringFlag{
						Name:  "session",
						Usage: "Restrict results to one session",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Regenerate a user's vectors after changing the embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "model",
						Usage: "Embedding model (overrides embedding.model)",
					},
				},
			},
			{
				Name:   "gc",
				Usage:  "Reclaim storage space",
				Action: gcCommand,
			},
		},
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Owner of the documents",
		Required: true,
	}
}

func openEngine(c *cli.Context) (*docvec.Engine, error) {
	return openEngineWith(c, nil)
}

// openEngineWith loads the configuration, lets adjust modify it, then opens the engine.
func openEngineWith(c *cli.Context, adjust func(*config.Config)) (*docvec.Engine, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	engine, err := docvec.NewEngine(cfg, engineOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	server, err := api.NewServer(engine)
	if err != nil {
		return err
	}
	addr := c.String("addr")
	if addr == "" {
		addr = engine.Config().Server.Address
	}
	return server.ListenAndServe(ctx, addr)
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := c.String("dir")
	files := c.Args().Slice()
	if dir == "" && len(files) == 0 {
		return fmt.Errorf("nothing to ingest: pass files or --dir")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	user := c.String("user")
	events := engine.Events().SubscribeUser(user)
	defer events.Close()

	var subs []*docvec.Submission
	if dir != "" {
		subs, err = engine.SubmitDirectory(ctx, user, c.String("session"), dir)
		if err != nil {
			return err
		}
	}
	for _, f := range files {
		sub, err := engine.Submit(ctx, docvec.SubmitRequest{
			UserID:     user,
			SessionID:  c.String("session"),
			SourcePath: f,
			Priority:   c.Int("priority"),
		})
		if err != nil {
			return fmt.Errorf("submitting %s: %w", f, err)
		}
		subs = append(subs, sub)
	}

	out := c.App.Writer
	for _, s := range subs {
		fmt.Fprintf(out, "%s\t%s\n", s.Document.ID, s.Document.SourcePath)
	}
	if !c.Bool("wait") || len(subs) == 0 {
		return nil
	}

	tracker := progress.NewTracker(c.App.ErrWriter, len(subs))
	tracker.Start()
	if err := engine.Start(ctx); err != nil {
		return err
	}
	if err := waitForDocuments(ctx, events, tracker); err != nil {
		return err
	}
	tracker.Finish()
	fmt.Fprintf(c.App.ErrWriter, "Processed %d documents in %s\n", len(subs), tracker.Elapsed().Round(time.Millisecond))
	if n := tracker.Failed(); n > 0 {
		return fmt.Errorf("%d of %d documents failed", n, len(subs))
	}
	return nil
}

func waitForDocuments(ctx context.Context, sub *progress.Subscription, tracker *progress.Tracker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("progress stream closed")
			}
			if tracker.Observe(ev) {
				return nil
			}
		}
	}
}

func documentArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one document id")
	}
	return c.Args().First(), nil
}

func statusCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	status, err := engine.Status(c.Context, id)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, status)
}

func cancelCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	finalized, err := engine.Cancel(c.Context, id)
	if err != nil {
		return err
	}
	if finalized {
		fmt.Fprintf(c.App.Writer, "%s cancelled\n", id)
	} else {
		fmt.Fprintf(c.App.Writer, "%s cancellation requested\n", id)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.Stats(c.Context, c.String("user"))
	if err != nil {
		return err
	}
	pending, err := engine.Pending(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Documents: %d\nChunks: %d\nPending jobs: %d\n", stats.DocumentCount, stats.ChunkCount, pending)
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.Query(c.Context, c.String("user"), question, c.Int("k"), c.String("session"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(c.App.Writer, "%d: [%0.3f] %s (%s)\n", i, hit.Score, hit.Record.Text, hit.Record.DocumentID)
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngineWith(c, func(cfg *config.Config) {
		if model := c.String("model"); model != "" {
			cfg.Embedding.Model = model
		}
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(c.App.ErrWriter, "User: %s\nEmbedding model: %s\n\n", c.String("user"), engine.Config().Embedding.Model)
	if _, err := engine.Reembed(ctx, c.String("user"), c.App.ErrWriter); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func gcCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()
	return engine.RunMaintenance()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
