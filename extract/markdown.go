package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders markdown and extracts its text, dropping syntax such as
// emphasis markers, link targets and table pipes.
type Markdown struct {
	md goldmark.Markdown
}

var _ Extractor = (*Markdown)(nil)

func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
	}
}

func (m *Markdown) Name() string { return "markdown" }

func (m *Markdown) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := m.md.Convert(data, &buf); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", path, err)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return nil, fmt.Errorf("parsing rendered %s: %w", path, err)
	}
	return &Result{Text: documentText(doc), Pages: 1}, nil
}
