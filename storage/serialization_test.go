package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalVector(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"single value", []float32{0.5}},
		{"mixed signs", []float32{-1, 0, 1, 0.25}},
		{"extremes", []float32{math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(-1))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalVector(tt.vector)
			assert.Len(t, data, 4*len(tt.vector))

			decoded, err := UnmarshalVector(data)
			require.NoError(t, err)
			assert.Equal(t, tt.vector, decoded)
		})
	}
}

func TestUnmarshalVector_Invalid(t *testing.T) {
	_, err := UnmarshalVector(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedData)
}
