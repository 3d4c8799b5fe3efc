// Package extract turns uploaded files into plain text.
//
// Each supported file type has a primary extractor and optionally a secondary
// one that the pipeline tries once when the primary fails.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath         = errors.New("source path is empty")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrBinaryContent     = errors.New("file does not look like text")
)

// Result is the text recovered from a file.
type Result struct {
	Text  string
	Pages int
}

// Extractor recovers text from the file at path.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, path string) (*Result, error)
}

// Strategy pairs a primary extractor with an optional secondary.
type Strategy struct {
	Primary   Extractor
	Secondary Extractor
}

// Registry routes files to a Strategy by extension.
type Registry struct {
	byExt    map[string]Strategy
	fallback *Strategy
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry) error

// WithStrategy registers a strategy for the given extensions, replacing any existing one.
func WithStrategy(s Strategy, exts ...string) RegistryOption {
	return func(r *Registry) error {
		if s.Primary == nil {
			return fmt.Errorf("strategy for %v has no primary extractor", exts)
		}
		for _, ext := range exts {
			r.byExt[normalizeExt(ext)] = s
		}
		return nil
	}
}

// WithFallback sets the strategy used for unknown extensions.
func WithFallback(s Strategy) RegistryOption {
	return func(r *Registry) error {
		if s.Primary == nil {
			return errors.New("fallback strategy has no primary extractor")
		}
		r.fallback = &s
		return nil
	}
}

// WithoutFallback rejects unknown extensions with ErrUnsupportedFormat.
func WithoutFallback() RegistryOption {
	return func(r *Registry) error {
		r.fallback = nil
		return nil
	}
}

// NewRegistry creates a registry with the default strategies:
//
//	.txt .text .log .csv .json  plain text
//	.md .markdown               rendered markdown, then plain text
//	.html .htm                  markdown conversion, then DOM text
//	.pdf                        PDF content streams
//	anything else               plain text if the file is not binary
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	plain := NewPlainText()
	r := &Registry{byExt: make(map[string]Strategy)}
	defaults := []RegistryOption{
		WithStrategy(Strategy{Primary: plain}, ".txt", ".text", ".log", ".csv", ".json"),
		WithStrategy(Strategy{Primary: NewMarkdown(), Secondary: plain}, ".md", ".markdown"),
		WithStrategy(Strategy{Primary: NewHTMLMarkdown(), Secondary: NewHTMLText()}, ".html", ".htm"),
		WithStrategy(Strategy{Primary: NewPDF()}, ".pdf"),
		WithFallback(Strategy{Primary: plain}),
	}
	for _, opt := range append(defaults, opts...) {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// For returns the strategy for path.
func (r *Registry) For(path string) (Strategy, error) {
	if path == "" {
		return Strategy{}, ErrEmptyPath
	}
	if s, ok := r.byExt[normalizeExt(filepath.Ext(path))]; ok {
		return s, nil
	}
	if r.fallback != nil {
		return *r.fallback, nil
	}
	return Strategy{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// Supported reports whether path has a registered extension.
// Files handled only by the fallback are not reported as supported.
func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[normalizeExt(filepath.Ext(path))]
	return ok
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// runWithContext runs fn and returns early with ctx.Err() if ctx ends first.
// fn keeps running to completion in the background; its result is discarded.
func runWithContext(ctx context.Context, fn func() (*Result, error)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn()
		done <- outcome{res, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.res, o.err
	}
}
