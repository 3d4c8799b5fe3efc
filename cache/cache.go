package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/go-crypt/x/blake2b"
)

// ErrBackendRequired is returned when a tier is constructed without its backend.
var ErrBackendRequired = errors.New("cache backend is required")

// Store is a key/vector cache.
// Implementations are safe for concurrent use and never hand out
// slices that alias their internal state.
type Store interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vector []float32)
}

// Normalize trims text and collapses internal whitespace runs to one space.
func Normalize(text string) string {
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

// Key derives the cache key for text embedded with model.
func Key(text, model string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
