package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeVector(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"empty", []float32{}},
		{"simple", []float32{1, -2.5, 0}},
		{"extremes", []float32{math.MaxFloat32, math.SmallestNonzeroFloat32, -0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := SerializeVector(tt.vector)
			assert.Len(t, blob, len(tt.vector)*4)
			assert.Equal(t, tt.vector, DeserializeVector(blob))
		})
	}
}

func TestDeserializeVector_TruncatedBlob(t *testing.T) {
	blob := SerializeVector([]float32{1, 2})
	got := DeserializeVector(blob[:7])
	assert.Equal(t, []float32{1}, got)
}
