// Package model holds the dense linear layer that keeps a device busy, and
// the wrapper that replicates it across accelerators.
package model

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/scttfrdmn/devblock/internal/device"
	"github.com/scttfrdmn/devblock/internal/tensor"
)

// ErrNotBound is returned by Forward on a layer that was never bound to a
// backend with To.
var ErrNotBound = errors.New("model: layer is not bound to a device")

// Model maps a (batch, in) tensor to a (batch, out) tensor.
type Model interface {
	Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

// Linear is a dense layer: y = x @ W^T + b.
//
// The transposed weight is kept alongside W so Forward is a single matmul
// plus a broadcast add.
type Linear struct {
	in, out int
	weight  *tensor.Tensor // (out, in)
	weightT *tensor.Tensor // (in, out)
	bias    *tensor.Tensor // (out)
	backend device.Backend
}

// NewLinear creates an unbound layer with weights and bias drawn uniformly
// from [-1/sqrt(in), 1/sqrt(in)).
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	weight := tensor.Uniform(rng, -bound, bound, out, in)
	return &Linear{
		in:      in,
		out:     out,
		weight:  weight,
		weightT: tensor.Transpose(weight),
		bias:    tensor.Uniform(rng, -bound, bound, out),
	}
}

// In returns the input width.
func (l *Linear) In() int { return l.in }

// Out returns the output width.
func (l *Linear) Out() int { return l.out }

// Weight returns a copy of the (out, in) weight matrix.
func (l *Linear) Weight() *tensor.Tensor { return l.weight.Clone() }

// Bias returns a copy of the bias vector.
func (l *Linear) Bias() *tensor.Tensor { return l.bias.Clone() }

// Backend returns the backend the layer is bound to, or nil.
func (l *Linear) Backend() device.Backend { return l.backend }

// To returns a copy of the layer bound to b. Parameters are shared; they are
// never written after construction.
func (l *Linear) To(b device.Backend) *Linear {
	c := *l
	c.backend = b
	return &c
}

// Forward applies the layer to a (batch, in) tensor.
func (l *Linear) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if l.backend == nil {
		return nil, ErrNotBound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shape := x.Shape()
	if len(shape) != 2 || shape[1] != l.in {
		return nil, errors.Errorf("model: expected input (batch, %d), got %v", l.in, shape)
	}

	y, err := l.backend.MatMul(x, l.weightT)
	if err != nil {
		return nil, errors.Wrapf(err, "linear forward on %s", l.backend.Device())
	}
	return tensor.AddRowVector(y, l.bias), nil
}
