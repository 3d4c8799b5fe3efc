package extract

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pageFilePattern = regexp.MustCompile(`page_(\d+)`)

// PDF recovers text from the text-showing operators of each page's content stream.
// Scanned pages without a text layer yield no text.
type PDF struct {
	conf *model.Configuration
}

var _ Extractor = (*PDF)(nil)

func NewPDF() *PDF {
	return &PDF{conf: model.NewDefaultConfiguration()}
}

func (p *PDF) Name() string { return "pdf" }

func (p *PDF) Extract(ctx context.Context, path string) (*Result, error) {
	return runWithContext(ctx, func() (*Result, error) {
		return p.extract(path)
	})
}

func (p *PDF) extract(path string) (*Result, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading PDF %s: %w", path, err)
	}

	outDir, err := os.MkdirTemp("", "docvec-pdf-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, p.conf); err != nil {
		return nil, fmt.Errorf("extracting PDF content %s: %w", path, err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	type pageFile struct {
		page int
		name string
	}
	var files []pageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		files = append(files, pageFile{page: n, name: e.Name()})
	}
	slices.SortFunc(files, func(a, b pageFile) int {
		if a.page != b.page {
			return a.page - b.page
		}
		return strings.Compare(a.name, b.name)
	})

	var pages []string
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(outDir, f.name))
		if err != nil {
			return nil, err
		}
		if text := contentStreamText(data); text != "" {
			pages = append(pages, text)
		}
	}
	return &Result{Text: strings.Join(pages, "\n\n"), Pages: pdfCtx.PageCount}, nil
}

// contentStreamText collects the strings shown by Tj, TJ, ' and " operators.
// Text positioning operators start a new line.
func contentStreamText(data []byte) string {
	var (
		lines   []string
		line    strings.Builder
		pending []string
	)
	newline := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}
	show := func() {
		for _, s := range pending {
			line.WriteString(s)
		}
		pending = pending[:0]
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '(':
			s, next := readLiteral(data, i)
			pending = append(pending, s)
			i = next
		case (c == '<' || c == '>') && i+1 < len(data) && data[i+1] == c:
			i += 2
		case c == '<':
			s, next := readHex(data, i)
			pending = append(pending, s)
			i = next
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case isRegular(c):
			start := i
			for i < len(data) && isRegular(data[i]) {
				i++
			}
			switch string(data[start:i]) {
			case "Tj", "TJ":
				show()
			case "'", `"`:
				newline()
				show()
			case "T*", "Td", "TD", "ET":
				newline()
			default:
				if !isNumber(data[start:i]) {
					pending = pending[:0]
				}
			}
		default:
			i++
		}
	}
	newline()
	return strings.Join(lines, "\n")
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

func isNumber(tok []byte) bool {
	_, err := strconv.ParseFloat(string(tok), 64)
	return err == nil
}

// readLiteral reads a balanced literal string starting at data[i] == '('.
func readLiteral(data []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i < len(data) {
		c := data[i]
		switch c {
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		case '\\':
			i++
			if i >= len(data) {
				return sb.String(), i
			}
			switch e := data[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					j := i
					for j < len(data) && j < i+3 && data[j] >= '0' && data[j] <= '7' {
						j++
					}
					n, _ := strconv.ParseUint(string(data[i:j]), 8, 8)
					sb.WriteByte(byte(n))
					i = j - 1
				} else {
					sb.WriteByte(e)
				}
			}
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

// readHex reads a hex string starting at data[i] == '<'.
func readHex(data []byte, i int) (string, int) {
	end := i + 1
	for end < len(data) && data[end] != '>' {
		end++
	}
	digits := strings.Map(func(r rune) rune {
		if strings.ContainsRune(" \t\r\n\f", r) {
			return -1
		}
		return r
	}, string(data[i+1:min(end, len(data))]))
	if len(digits)%2 == 1 {
		digits += "0"
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return "", end + 1
	}
	var sb strings.Builder
	for _, b := range raw {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		}
	}
	return sb.String(), end + 1
}
