// Package config loads docvec settings from TOML and validates them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/docvec/ai"
)

// Config is the full docvec configuration.
type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Workers     WorkersConfig     `toml:"workers"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Chunking    ChunkingConfig    `toml:"chunking"`
	Queue       QueueConfig       `toml:"queue"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Server      ServerConfig      `toml:"server"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

// StorageConfig locates the BadgerDB directory.
type StorageConfig struct {
	Path     string `toml:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `toml:"in_memory"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Concurrency    int `toml:"concurrency" validate:"min=1"`
	PollIntervalMs int `toml:"poll_interval_ms" validate:"min=1"`
}

// BackendConfig describes one inference backend. Backends are tried in order.
type BackendConfig struct {
	Kind  string `toml:"kind" validate:"required,oneof=openai ollama"`
	Host  string `toml:"host" validate:"required,url"`
	Token string `toml:"token"`
}

// EmbeddingConfig controls the embedding client.
type EmbeddingConfig struct {
	Model               string          `toml:"model" validate:"required"`
	SubBatchSize        int             `toml:"sub_batch_size" validate:"min=1"`
	SubBatchConcurrency int             `toml:"sub_batch_concurrency" validate:"min=1"`
	RateLimitPerMinute  int             `toml:"rate_limit_per_minute" validate:"min=0"`
	CacheTTLSeconds     int             `toml:"cache_ttl_seconds" validate:"min=1"`
	CacheSize           int             `toml:"cache_size" validate:"min=1"`
	RetryDelayMs        int             `toml:"retry_delay_ms" validate:"min=0"`
	Backends            []BackendConfig `toml:"backends" validate:"dive"`
}

// ChunkingConfig sets the chunk target length and overlap, in characters.
type ChunkingConfig struct {
	TargetSize int `toml:"target_size" validate:"min=1"`
	Overlap    int `toml:"overlap" validate:"min=0,ltfield=TargetSize"`
}

// QueueConfig controls job retries.
type QueueConfig struct {
	MaxAttempts   int  `toml:"max_attempts" validate:"min=1"`
	BackoffBaseMs int  `toml:"backoff_base_ms" validate:"min=1"`
	BackoffMaxMs  int  `toml:"backoff_max_ms" validate:"gtefield=BackoffBaseMs"`
	RetryDegraded bool `toml:"retry_degraded"`
}

// PipelineConfig controls stage timeouts and local retries.
type PipelineConfig struct {
	StageTimeoutMs int `toml:"stage_timeout_ms" validate:"min=1"`
	StoreAttempts  int `toml:"store_attempts" validate:"min=1"`
}

// ServerConfig configures the HTTP and websocket listener.
type ServerConfig struct {
	Address string `toml:"address" validate:"required"`
}

// MaintenanceConfig schedules background housekeeping.
type MaintenanceConfig struct {
	GCSchedule string `toml:"gc_schedule"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: "./docvec-data"},
		Workers: WorkersConfig{Concurrency: 4, PollIntervalMs: 1000},
		Embedding: EmbeddingConfig{
			Model:               "nomic-embed-text",
			SubBatchSize:        16,
			SubBatchConcurrency: 4,
			RateLimitPerMinute:  600,
			CacheTTLSeconds:     86400,
			CacheSize:           10000,
			RetryDelayMs:        250,
		},
		Chunking:    ChunkingConfig{TargetSize: 1000, Overlap: 200},
		Queue:       QueueConfig{MaxAttempts: 3, BackoffBaseMs: 1000, BackoffMaxMs: 60000},
		Pipeline:    PipelineConfig{StageTimeoutMs: 60000, StoreAttempts: 3},
		Server:      ServerConfig{Address: "127.0.0.1:8089"},
		Maintenance: MaintenanceConfig{GCSchedule: "@every 10m"},
	}
}

// Load reads a TOML file over the defaults and validates the result.
// An empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies defaults that depend on other fields and checks struct tags.
func (c *Config) Validate() error {
	if len(c.Embedding.Backends) == 0 {
		def := ai.DefaultConfig()
		c.Embedding.Backends = []BackendConfig{{Kind: string(def.Kind), Host: def.Host, Token: def.Token}}
	}

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s failed %q validation", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AIConfigs converts the backend list to normalized ai.Config values, primary first.
func (c *Config) AIConfigs() ([]*ai.Config, error) {
	out := make([]*ai.Config, 0, len(c.Embedding.Backends))
	for _, b := range c.Embedding.Backends {
		cfg := ai.NewConfig(
			ai.WithKind(ai.Kind(b.Kind)),
			ai.WithHost(b.Host),
			ai.WithToken(b.Token),
		)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// StageTimeout is the per-call timeout for extraction, inference and storage.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutMs) * time.Millisecond
}

// PollInterval bounds how long an idle worker waits before rechecking the queue.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalMs) * time.Millisecond
}

// CacheTTL is how long embeddings stay cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Embedding.CacheTTLSeconds) * time.Second
}

// BackoffBase is the first job retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Queue.BackoffBaseMs) * time.Millisecond
}

// BackoffMax caps job retry delays.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Queue.BackoffMaxMs) * time.Millisecond
}

// RetryDelay is the pause before a failed sub-batch is retried.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Embedding.RetryDelayMs) * time.Millisecond
}
