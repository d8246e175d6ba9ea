package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTensorBasics tests basic tensor creation and access.
func TestTensorBasics(t *testing.T) {
	tensor := New(2, 3)

	assert.Equal(t, []int{2, 3}, tensor.Shape())
	assert.Equal(t, 2, tensor.Dims())
	assert.Equal(t, 6, tensor.Size())

	tensor.Set(1.5, 0, 0)
	tensor.Set(2.5, 1, 2)

	assert.Equal(t, 1.5, tensor.At(0, 0))
	assert.Equal(t, 2.5, tensor.At(1, 2))
	assert.Equal(t, 0.0, tensor.At(1, 1))
}

func TestShapeIsCopied(t *testing.T) {
	shape := []int{2, 2}
	tensor := New(shape...)
	shape[0] = 10

	got := tensor.Shape()
	got[1] = 7

	assert.Equal(t, []int{2, 2}, tensor.Shape())
}

func TestNewPanicsOnBadShape(t *testing.T) {
	assert.Panics(t, func() { New() })
	assert.Panics(t, func() { New(2, 0) })
	assert.Panics(t, func() { New(-1) })
}

func TestAtPanicsOutOfBounds(t *testing.T) {
	tensor := New(2, 2)
	assert.Panics(t, func() { tensor.At(2, 0) })
	assert.Panics(t, func() { tensor.At(0) })
}

func TestFromValues(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	tensor := FromValues(values, 2, 3)
	values[0] = 100

	assert.Equal(t, 1.0, tensor.At(0, 0))
	assert.Equal(t, 6.0, tensor.At(1, 2))

	flat := FromValues([]float64{1, 2, 3})
	assert.Equal(t, []int{3}, flat.Shape())

	assert.Panics(t, func() { FromValues([]float64{1, 2}, 3) })
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		tensor *Tensor
		want   string
	}{
		{"integers", FromValues([]float64{1, 2, 3, 4, 5}), "[1 2 3 4 5]"},
		{"fractions", FromValues([]float64{0.5, -1.25}), "[0.5 -1.25]"},
		{"matrix falls back", New(2, 2), "Tensor(shape=[2 2], size=4)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tensor.Format())
		})
	}
}

func TestFormatShape(t *testing.T) {
	assert.Equal(t, "(64, 1024)", FormatShape([]int{64, 1024}))
	assert.Equal(t, "(5)", FormatShape([]int{5}))
}

// TestMatMul tests matrix multiplication against a hand-computed product.
func TestMatMul(t *testing.T) {
	a := FromValues([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromValues([]float64{1, 2, 3, 4, 5, 6}, 3, 2)

	c := MatMul(a, b)

	require.Equal(t, []int{2, 2}, c.Shape())
	// [1*1+2*3+3*5, 1*2+2*4+3*6] = [22, 28]
	// [4*1+5*3+6*5, 4*2+5*4+6*6] = [49, 64]
	if diff := cmp.Diff([]float64{22, 28, 49, 64}, c.Data()); diff != "" {
		t.Errorf("MatMul mismatch (-want +got):\n%s", diff)
	}
}

func TestMatMulPanicsOnMismatch(t *testing.T) {
	assert.Panics(t, func() { MatMul(New(2, 3), New(2, 3)) })
	assert.Panics(t, func() { MatMul(New(6), New(6)) })
}

func TestTranspose(t *testing.T) {
	a := FromValues([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	at := Transpose(a)

	require.Equal(t, []int{3, 2}, at.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, a.At(i, j), at.At(j, i))
		}
	}
}

func TestAddRowVector(t *testing.T) {
	a := FromValues([]float64{1, 2, 3, 4}, 2, 2)
	v := FromValues([]float64{10, 20})

	out := AddRowVector(a, v)

	assert.Equal(t, []float64{11, 22, 13, 24}, out.Data())
	assert.Panics(t, func() { AddRowVector(a, FromValues([]float64{1, 2, 3})) })
}

func TestSliceAndConcatRows(t *testing.T) {
	a := FromValues([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 5, 2)

	top := SliceRows(a, 0, 3)
	bottom := SliceRows(a, 3, 5)
	assert.Equal(t, []int{3, 2}, top.Shape())
	assert.Equal(t, []int{2, 2}, bottom.Shape())

	joined := ConcatRows(top, bottom)
	assert.Equal(t, a.Data(), joined.Data())
	assert.Equal(t, a.Shape(), joined.Shape())

	// Slices are copies.
	top.Set(-1, 0, 0)
	assert.Equal(t, 1.0, a.At(0, 0))

	assert.Panics(t, func() { SliceRows(a, 3, 3) })
	assert.Panics(t, func() { SliceRows(a, 0, 6) })
	assert.Panics(t, func() { ConcatRows(New(1, 2), New(1, 3)) })
}

func TestRandnStatistics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := Randn(rng, 100, 100)

	var sum, sumSq float64
	for _, v := range x.Data() {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		sum += v
		sumSq += v * v
	}
	n := float64(x.Size())
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)

	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 1, std, 0.05)
}

func TestUniformBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := Uniform(rng, -0.5, 0.5, 32, 32)

	for _, v := range x.Data() {
		assert.GreaterOrEqual(t, v, -0.5)
		assert.Less(t, v, 0.5)
	}
}

func TestClone(t *testing.T) {
	a := FromValues([]float64{1, 2})
	c := a.Clone()
	c.Set(5, 0)
	assert.Equal(t, 1.0, a.At(0))
}

func tensorsEqual(a, b *Tensor, tol float64) bool {
	if !ShapeEqual(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}
