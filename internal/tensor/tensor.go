// Package tensor provides the small dense-array toolkit the linear layer
// and the greeting demo are built on.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A Tensor is a flat []float64 plus a shape. That's all a single dense layer
// needs: matrix multiply, transpose, a broadcast bias add, and row slicing so
// a batch can be split across replicas and stitched back together.
//
// Shape errors are programmer bugs, not runtime conditions. Every operation
// here panics on them; code that handles user input validates shapes first
// and returns errors (see model.Linear.Forward).
//
// ===========================================================================

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in row-major (C-contiguous) order.
//
// Tensor is not safe for concurrent writes. Concurrent reads are fine, which
// is what the replicas in model.DataParallel rely on.
type Tensor struct {
	data  []float64
	shape []int
}

// New creates a tensor with the given shape, initialized to zero.
// Panics if shape is empty or contains non-positive dimensions.
func New(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
	}
}

// FromValues creates a tensor holding a copy of values.
// With no shape given the result is 1-D.
func FromValues(values []float64, shape ...int) *Tensor {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	t := New(shape...)
	if len(values) != len(t.data) {
		panic(fmt.Sprintf("tensor: %d values do not fill shape %v", len(values), shape))
	}
	copy(t.data, values)
	return t
}

// Randn creates a tensor with entries drawn from the standard normal
// distribution, using the Box-Muller transform.
func Randn(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)

	// Generate pairs of independent standard normal variables
	for i := 0; i < len(t.data); i += 2 {
		u1 := 1 - rng.Float64() // (0, 1], keeps Log finite
		u2 := rng.Float64()
		mag := math.Sqrt(-2 * math.Log(u1))

		t.data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(t.data) {
			t.data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}

	return t
}

// Uniform creates a tensor with entries drawn uniformly from [lo, hi).
func Uniform(rng *rand.Rand, lo, hi float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = lo + (hi-lo)*rng.Float64()
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns a copy of the underlying values in row-major order.
func (t *Tensor) Data() []float64 {
	out := make([]float64, len(t.data))
	copy(out, t.data)
	return out
}

// Raw exposes the backing slice. Backends that hand memory to native code
// use it; everyone else should use Data.
func (t *Tensor) Raw() []float64 {
	return t.data
}

// At returns the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := New(t.shape...)
	copy(clone.data, t.data)
	return clone
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// Format renders a 1-D tensor the way array printers usually do: values
// separated by single spaces inside brackets, e.g. [1 2 3 4 5].
// Higher-rank tensors fall back to String.
func (t *Tensor) Format() string {
	if len(t.shape) != 1 {
		return t.String()
	}
	parts := make([]string, len(t.data))
	for i, v := range t.data {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FormatShape renders a shape as a parenthesised tuple, e.g. (64, 1024).
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// MatMul performs matrix multiplication: C = A @ B.
// A must be (M, K), B must be (K, N), result is (M, N).
//
// Uses the global compute configuration to decide on parallel execution.
func MatMul(a, b *Tensor) *Tensor {
	return MatMulWithConfig(a, b, GetGlobalComputeConfig())
}

// Transpose returns the transpose of a 2D matrix: A^T.
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := New(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}

	return out
}

// AddRowVector adds the 1-D tensor v to every row of the 2-D tensor a.
func AddRowVector(a, v *Tensor) *Tensor {
	if len(a.shape) != 2 || len(v.shape) != 1 || a.shape[1] != v.shape[0] {
		panic(fmt.Sprintf("tensor: cannot broadcast %v onto rows of %v", v.shape, a.shape))
	}

	rows, cols := a.shape[0], a.shape[1]
	out := New(rows, cols)
	for i := 0; i < rows; i++ {
		row := i * cols
		for j := 0; j < cols; j++ {
			out.data[row+j] = a.data[row+j] + v.data[j]
		}
	}

	return out
}

// SliceRows returns a copy of rows [start, end) of a 2-D tensor.
func SliceRows(a *Tensor, start, end int) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: SliceRows requires 2D tensor")
	}
	if start < 0 || end > a.shape[0] || start >= end {
		panic(fmt.Sprintf("tensor: invalid row range [%d,%d) for %d rows", start, end, a.shape[0]))
	}

	cols := a.shape[1]
	out := New(end-start, cols)
	copy(out.data, a.data[start*cols:end*cols])
	return out
}

// ConcatRows stacks 2-D tensors with the same column count on top of each
// other, in order.
func ConcatRows(parts ...*Tensor) *Tensor {
	if len(parts) == 0 {
		panic("tensor: ConcatRows needs at least one tensor")
	}

	cols := parts[0].shape[1]
	rows := 0
	for _, p := range parts {
		if len(p.shape) != 2 || p.shape[1] != cols {
			panic(fmt.Sprintf("tensor: cannot concat %v with %d columns", p.shape, cols))
		}
		rows += p.shape[0]
	}

	out := New(rows, cols)
	offset := 0
	for _, p := range parts {
		offset += copy(out.data[offset:], p.data)
	}
	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

// ShapeEqual reports whether two shapes are identical.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
