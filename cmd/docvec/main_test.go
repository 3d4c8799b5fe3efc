package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/docvec"
	"github.com/poiesic/docvec/ai/mock"
)

const testConfig = `
[storage]
in_memory = true

[workers]
concurrency = 2
poll_interval_ms = 10

[embedding]
retry_delay_ms = 0

[maintenance]
gc_schedule = ""
`

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	engineOptions = []docvec.EngineOption{docvec.WithEmbedders(mock.NewMockEmbedder())}
	t.Cleanup(func() { engineOptions = nil })

	cfgPath := filepath.Join(t.TempDir(), "docvec.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0644))

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"docvec", "--config", cfgPath}, args...))
	return stdout.String(), stderr.String(), err
}

func findCommand(t *testing.T, name string) *cli.Command {
	t.Helper()
	for _, cmd := range newApp().Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %s not found", name)
	return nil
}

func TestCommandFlags(t *testing.T) {
	t.Run("query k defaults to 5", func(t *testing.T) {
		var kFlag *cli.IntFlag
		for _, flag := range findCommand(t, "query").Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "k" {
				kFlag = f
			}
		}
		require.NotNil(t, kFlag)
		assert.Equal(t, 5, kFlag.Value)
	})

	t.Run("user is required for ingest", func(t *testing.T) {
		var userFlag *cli.StringFlag
		for _, flag := range findCommand(t, "ingest").Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "user" {
				userFlag = f
			}
		}
		require.NotNil(t, userFlag)
		assert.True(t, userFlag.Required)
	})
}

func TestSetupLogger(t *testing.T) {
	_, _, err := runApp(t, "--log-level", "loud", "gc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, _, err = runApp(t, "--log-level", "DEBUG", "gc")
	assert.NoError(t, err)
}

func TestIngestCommand(t *testing.T) {
	t.Run("user is required", func(t *testing.T) {
		_, _, err := runApp(t, "ingest", "notes.txt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "user")
	})

	t.Run("nothing to ingest", func(t *testing.T) {
		_, _, err := runApp(t, "ingest", "--user", "alice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nothing to ingest")
	})

	t.Run("wait processes every document", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("First document about badgers."), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# Second\n\nA document about otters."), 0644))
		extra := filepath.Join(t.TempDir(), "c.txt")
		require.NoError(t, os.WriteFile(extra, []byte("Third document about herons."), 0644))

		stdout, stderr, err := runApp(t, "ingest", "--user", "alice", "--dir", dir, "--wait", extra)
		require.NoError(t, err)
		assert.Contains(t, stdout, "a.txt")
		assert.Contains(t, stdout, "b.md")
		assert.Contains(t, stdout, "c.txt")
		assert.Contains(t, stderr, "Progress: 3/3 documents")
		assert.Contains(t, stderr, "Processed 3 documents")
	})
}

func TestDocumentCommands(t *testing.T) {
	_, _, err := runApp(t, "status")
	assert.ErrorContains(t, err, "exactly one document id")

	_, _, err = runApp(t, "cancel", "a", "b")
	assert.ErrorContains(t, err, "exactly one document id")

	_, _, err = runApp(t, "status", "missing")
	assert.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	stdout, _, err := runApp(t, "stats", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Documents: 0")
	assert.Contains(t, stdout, "Pending jobs: 0")
}

func TestQueryCommand(t *testing.T) {
	_, _, err := runApp(t, "query", "--user", "alice")
	assert.ErrorContains(t, err, "question is required")

	_, _, err = runApp(t, "query", "--user", "alice", "what", "is", "this")
	assert.ErrorContains(t, err, "no documents")
}

func TestReembedCommand(t *testing.T) {
	_, stderr, err := runApp(t, "reembed", "--user", "alice", "--model", "other-model")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Embedding model: other-model")
	assert.Contains(t, stderr, "No chunks found for alice")
}
