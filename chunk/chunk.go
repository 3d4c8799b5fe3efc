// Package chunk splits extracted text into overlapping chunks.
//
// Boundaries prefer a paragraph break, then a sentence end, then a hard cut at
// the target size. Offsets and sizes are measured in runes. Consecutive chunks
// share exactly Overlap runes, so dropping the first Overlap runes of every
// chunk after the first and concatenating reconstructs the input.
package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/docvec/core"
)

const (
	DefaultTargetSize = 1000
	DefaultOverlap    = 200
)

var (
	ErrInvalidTargetSize = errors.New("chunk target size must be positive")
	ErrInvalidOverlap    = errors.New("chunk overlap must be non-negative and smaller than the target size")
)

// Chunker splits text using a fixed target size and overlap.
type Chunker struct {
	targetSize int
	overlap    int
}

// New creates a Chunker.
func New(targetSize, overlap int) (*Chunker, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTargetSize, targetSize)
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, fmt.Errorf("%w: overlap %d, target %d", ErrInvalidOverlap, overlap, targetSize)
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}, nil
}

// Split divides text into chunks for documentID.
// Empty or whitespace-only text yields no chunks.
func (c *Chunker) Split(documentID, text string) []core.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []core.Chunk
	start := 0
	for {
		if len(runes)-start <= c.targetSize {
			chunks = append(chunks, c.makeChunk(documentID, len(chunks), runes, start, len(runes)))
			return chunks
		}
		end := c.findBreak(runes, start)
		chunks = append(chunks, c.makeChunk(documentID, len(chunks), runes, start, end))
		start = end - c.overlap
	}
}

func (c *Chunker) makeChunk(documentID string, index int, runes []rune, start, end int) core.Chunk {
	return core.Chunk{
		DocumentID: documentID,
		Index:      index,
		Text:       string(runes[start:end]),
		CharStart:  start,
		CharEnd:    end,
	}
}

// findBreak picks the end of the chunk starting at start.
// The result always leaves the next chunk starting after start.
func (c *Chunker) findBreak(runes []rune, start int) int {
	limit := start + c.targetSize
	minEnd := start + max(c.overlap+1, c.targetSize/2)

	for end := limit; end >= minEnd && end >= 2; end-- {
		if runes[end-1] == '\n' && runes[end-2] == '\n' {
			return end
		}
	}
	for end := limit; end >= minEnd && end >= 2; end-- {
		if unicode.IsSpace(runes[end-1]) && isSentenceEnd(runes[end-2]) {
			return end
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
