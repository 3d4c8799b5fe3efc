package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

const binarySniffLen = 8000

// PlainText reads a file as UTF-8 text.
type PlainText struct{}

var _ Extractor = (*PlainText)(nil)

func NewPlainText() *PlainText {
	return &PlainText{}
}

func (p *PlainText) Name() string { return "text" }

func (p *PlainText) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if looksBinary(data) {
		return nil, fmt.Errorf("%w: %s", ErrBinaryContent, path)
	}
	return &Result{Text: toText(data), Pages: 1}, nil
}

func looksBinary(data []byte) bool {
	sniff := data[:min(len(data), binarySniffLen)]
	return bytes.IndexByte(sniff, 0) >= 0
}

func toText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
