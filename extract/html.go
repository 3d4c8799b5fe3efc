package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// HTMLMarkdown converts HTML to markdown, which keeps headings and lists
// as paragraph structure for the chunker.
type HTMLMarkdown struct {
	converter *md.Converter
}

var _ Extractor = (*HTMLMarkdown)(nil)

func NewHTMLMarkdown() *HTMLMarkdown {
	conv := md.NewConverter("", true, nil)
	conv.Remove("script", "style", "noscript")
	return &HTMLMarkdown{converter: conv}
}

func (h *HTMLMarkdown) Name() string { return "html-markdown" }

func (h *HTMLMarkdown) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out, err := h.converter.ConvertBytes(data)
	if err != nil {
		return nil, fmt.Errorf("converting %s to markdown: %w", path, err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" && len(bytes.TrimSpace(data)) > 0 {
		return nil, fmt.Errorf("markdown conversion of %s produced no text", path)
	}
	return &Result{Text: text, Pages: 1}, nil
}

// HTMLText extracts the visible text of an HTML document.
type HTMLText struct{}

var _ Extractor = (*HTMLText)(nil)

func NewHTMLText() *HTMLText {
	return &HTMLText{}
}

func (h *HTMLText) Name() string { return "html-text" }

func (h *HTMLText) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &Result{Text: documentText(doc), Pages: 1}, nil
}

// documentText returns block-separated visible text.
func documentText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, head").Remove()

	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, pre, blockquote, td, th").Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(blocks, "\n\n")
}
