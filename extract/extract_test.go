package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRegistry_For(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		path          string
		primary       string
		hasSecondary  bool
		wantSupported bool
	}{
		{"notes.txt", "text", false, true},
		{"README.MD", "markdown", true, true},
		{"page.html", "html-markdown", true, true},
		{"page.htm", "html-markdown", true, true},
		{"paper.pdf", "pdf", false, true},
		{"main.go", "text", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s, err := r.For(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.primary, s.Primary.Name())
			assert.Equal(t, tt.hasSecondary, s.Secondary != nil)
			assert.Equal(t, tt.wantSupported, r.Supported(tt.path))
		})
	}

	_, err = r.For("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestRegistry_WithoutFallback(t *testing.T) {
	r, err := NewRegistry(WithoutFallback(), WithStrategy(Strategy{Primary: NewPlainText()}, "go"))
	require.NoError(t, err)

	_, err = r.For("image.png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	s, err := r.For("main.go")
	require.NoError(t, err)
	assert.Equal(t, "text", s.Primary.Name())
}

func TestRegistry_RejectsStrategyWithoutPrimary(t *testing.T) {
	_, err := NewRegistry(WithStrategy(Strategy{}, ".x"))
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	ctx := context.Background()
	p := NewPlainText()

	res, err := p.Extract(ctx, writeFile(t, "a.txt", "\xef\xbb\xbfHello\n\nWorld"))
	require.NoError(t, err)
	assert.Equal(t, "Hello\n\nWorld", res.Text)
	assert.Equal(t, 1, res.Pages)

	res, err = p.Extract(ctx, writeFile(t, "bad.txt", "caf\xe9"))
	require.NoError(t, err)
	assert.Equal(t, "caf�", res.Text)

	_, err = p.Extract(ctx, writeFile(t, "bin.dat", "ab\x00cd"))
	assert.ErrorIs(t, err, ErrBinaryContent)

	_, err = p.Extract(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestPlainText_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPlainText().Extract(ctx, writeFile(t, "a.txt", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

const sampleHTML = `<html><head><title>T</title><style>p{}</style></head>
<body><h1>Report</h1><script>alert(1)</script>
<p>First <b>paragraph</b>.</p><ul><li>One</li><li>Two</li></ul></body></html>`

func TestHTMLMarkdown(t *testing.T) {
	res, err := NewHTMLMarkdown().Extract(context.Background(), writeFile(t, "a.html", sampleHTML))
	require.NoError(t, err)
	assert.Contains(t, res.Text, "# Report")
	assert.Contains(t, res.Text, "First **paragraph**.")
	assert.NotContains(t, res.Text, "alert")
}

func TestHTMLText(t *testing.T) {
	res, err := NewHTMLText().Extract(context.Background(), writeFile(t, "a.html", sampleHTML))
	require.NoError(t, err)
	assert.Equal(t, "Report\n\nFirst paragraph.\n\nOne\n\nTwo", res.Text)
}

func TestMarkdown(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and a [link](http://example.com).\n\n- item one\n- item two\n"
	res, err := NewMarkdown().Extract(context.Background(), writeFile(t, "a.md", src))
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nSome emphasis and a link.\n\nitem one\n\nitem two", res.Text)
}

func TestPDF_InvalidFile(t *testing.T) {
	_, err := NewPDF().Extract(context.Background(), writeFile(t, "a.pdf", "not a pdf"))
	assert.Error(t, err)
}

func TestRunWithContext_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := runWithContext(ctx, func() (*Result, error) {
		<-release
		return &Result{}, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContentStreamText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "simple Tj",
			content: "BT /F1 12 Tf 72 712 Td (Hello World) Tj ET",
			want:    "Hello World",
		},
		{
			name:    "TJ array with kerning",
			content: "BT [(Hel) -20 (lo) 5 ( there)] TJ ET",
			want:    "Hello there",
		},
		{
			name:    "line moves",
			content: "BT (First line) Tj 0 -14 Td (Second line) Tj T* (Third) Tj ET",
			want:    "First line\nSecond line\nThird",
		},
		{
			name:    "escapes and nesting",
			content: `BT (a \(b\) \\ c (nested)) Tj ET`,
			want:    `a (b) \ c (nested)`,
		},
		{
			name:    "octal escape",
			content: `BT (caf\351) Tj ET`,
			want:    "caf\xe9",
		},
		{
			name:    "hex string",
			content: "BT <48656C6C6F> Tj ET",
			want:    "Hello",
		},
		{
			name:    "dictionaries are skipped",
			content: "/Span <</MCID 0>> BDC BT (Tagged) Tj ET EMC",
			want:    "Tagged",
		},
		{
			name:    "quote operator starts a line",
			content: "BT (One) Tj (Two) ' ET",
			want:    "One\nTwo",
		},
		{
			name:    "strings without show operator are ignored",
			content: "(orphan) /Name gs",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contentStreamText([]byte(tt.content)))
		})
	}
}
