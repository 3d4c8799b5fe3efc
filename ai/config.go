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

package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the wire protocol spoken by an inference backend.
type Kind string

const (
	// KindOpenAI is any server exposing the OpenAI /v1/embeddings API.
	KindOpenAI Kind = "openai"
	// KindOllama is the native Ollama embedding API.
	KindOllama Kind = "ollama"
)

// Config holds connection settings for one inference backend.
type Config struct {
	// Kind selects the client implementation.
	Kind Kind

	// Host is the base URL for the backend.
	// Example: "http://localhost:11434" for Ollama, "http://localhost:8000/v1" for vLLM
	Host string

	// Token is the API key. Local servers accept any value.
	Token string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithKind sets the backend protocol.
func WithKind(kind Kind) ConfigOption {
	return func(c *Config) {
		c.Kind = kind
	}
}

// WithHost sets the backend base URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

// WithToken sets the API key.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// DefaultConfig returns a Config for a local Ollama server.
func DefaultConfig() *Config {
	return &Config{
		Kind:  KindOllama,
		Host:  "http://localhost:11434",
		Token: "none",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//   cfg := NewConfig(
//       WithKind(KindOpenAI),
//       WithHost("http://localhost:8000"),
//   )
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible hosts get a /v1 suffix; Ollama hosts lose it, since the
// native client appends its own API path.
func (c *Config) Normalize() {
	if c.Host == "" {
		return
	}
	host := strings.TrimSuffix(c.Host, "/")
	switch c.Kind {
	case KindOpenAI:
		if !strings.HasSuffix(host, "/v1") {
			host += "/v1"
		}
	case KindOllama:
		host = strings.TrimSuffix(host, "/v1")
	}
	c.Host = host
	if c.Token == "" {
		c.Token = "none"
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Host == "" {
		return errors.New("ai config: Host is required")
	}
	switch c.Kind {
	case KindOpenAI, KindOllama:
	case "":
		return errors.New("ai config: Kind is required")
	default:
		return fmt.Errorf("ai config: unknown backend kind %q", c.Kind)
	}
	return nil
}
