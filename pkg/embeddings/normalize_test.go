package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeL2(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want []float32
	}{
		{"unit vector unchanged", []float32{1, 0, 0}, []float32{1, 0, 0}},
		{"three four five", []float32{3, 4}, []float32{0.6, 0.8}},
		{"zero vector unchanged", []float32{0, 0, 0}, []float32{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NormalizeL2(tt.in)
			assert.InDeltaSlice(t, tt.want, tt.in, 1e-5)
		})
	}
}

func TestIsUnit(t *testing.T) {
	v := []float32{1, 1, 1}
	assert.False(t, IsUnit(v, 1e-5))

	NormalizeL2(v)
	assert.True(t, IsUnit(v, 1e-5))
}
