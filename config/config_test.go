package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/docvec/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docvec.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers.Concurrency)
	assert.Equal(t, 1000, cfg.Chunking.TargetSize)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	require.Len(t, cfg.Embedding.Backends, 1)
	assert.Equal(t, "ollama", cfg.Embedding.Backends[0].Kind)
	assert.Equal(t, time.Minute, cfg.StageTimeout())
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, time.Second, cfg.BackoffBase())
	assert.Equal(t, time.Minute, cfg.BackoffMax())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[storage]
path = "/var/lib/docvec"

[workers]
concurrency = 8

[embedding]
model = "text-embedding-3-small"
sub_batch_size = 32
rate_limit_per_minute = 120

[[embedding.backends]]
kind = "openai"
host = "http://vllm:8000"

[[embedding.backends]]
kind = "ollama"
host = "http://localhost:11434"

[chunking]
target_size = 500
overlap = 50

[queue]
max_attempts = 5
retry_degraded = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/docvec", cfg.Storage.Path)
	assert.Equal(t, 8, cfg.Workers.Concurrency)
	assert.Equal(t, 32, cfg.Embedding.SubBatchSize)
	assert.Equal(t, 4, cfg.Embedding.SubBatchConcurrency, "unset keys keep defaults")
	assert.Equal(t, 500, cfg.Chunking.TargetSize)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.True(t, cfg.Queue.RetryDegraded)

	backends, err := cfg.AIConfigs()
	require.NoError(t, err)
	require.Len(t, backends, 2)
	assert.Equal(t, ai.KindOpenAI, backends[0].Kind)
	assert.Equal(t, "http://vllm:8000/v1", backends[0].Host)
	assert.Equal(t, ai.KindOllama, backends[1].Kind)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"overlap not below target", "[chunking]\ntarget_size = 100\noverlap = 100\n"},
		{"zero workers", "[workers]\nconcurrency = 0\n"},
		{"unknown backend", "[[embedding.backends]]\nkind = \"bedrock\"\nhost = \"http://x\"\n"},
		{"backoff max below base", "[queue]\nbackoff_base_ms = 5000\nbackoff_max_ms = 10\n"},
		{"malformed toml", "[workers\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate_InMemoryNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Storage = StorageConfig{InMemory: true}
	assert.NoError(t, cfg.Validate())

	cfg.Storage = StorageConfig{}
	assert.Error(t, cfg.Validate())
}
