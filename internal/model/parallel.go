package model

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/scttfrdmn/devblock/internal/device"
	"github.com/scttfrdmn/devblock/internal/tensor"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Data parallelism in its simplest form. Every accelerator gets a replica of
// the layer (same parameters, different backend). A forward pass:
//
//   1. scatter: cut the batch into contiguous row chunks of ceil(batch/n)
//   2. run:     each replica processes its chunk in its own goroutine
//   3. gather:  stitch the outputs back together in replica order
//
// With 64 rows on 3 devices that's 22 + 22 + 20. With 2 rows on 4 devices
// only the first two replicas do any work.
//
// The first replica to fail cancels the others through the errgroup context.
//
// ===========================================================================

// DataParallel replicates a Linear layer across several backends.
type DataParallel struct {
	replicas []*Linear
}

// NewDataParallel binds one replica of l to each backend.
func NewDataParallel(l *Linear, backends []device.Backend) (*DataParallel, error) {
	if len(backends) == 0 {
		return nil, errors.New("model: data parallel needs at least one backend")
	}

	replicas := make([]*Linear, len(backends))
	for i, b := range backends {
		replicas[i] = l.To(b)
	}
	return &DataParallel{replicas: replicas}, nil
}

// Replicas returns the number of replicas.
func (p *DataParallel) Replicas() int {
	return len(p.replicas)
}

// Forward scatters x across the replicas, runs them concurrently and
// gathers the outputs in order.
func (p *DataParallel) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("model: data parallel expects a 2D batch, got %v", shape)
	}

	chunks := scatter(shape[0], len(p.replicas))
	outputs := make([]*tensor.Tensor, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			out, err := p.replicas[i].Forward(gctx, tensor.SliceRows(x, c.start, c.end))
			if err != nil {
				return errors.Wrapf(err, "replica %d", i)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tensor.ConcatRows(outputs...), nil
}

type rowRange struct {
	start, end int
}

// scatter splits rows into at most n contiguous, non-empty ranges of
// ceil(rows/n) rows each.
func scatter(rows, n int) []rowRange {
	size := (rows + n - 1) / n
	ranges := make([]rowRange, 0, n)
	for start := 0; start < rows; start += size {
		end := start + size
		if end > rows {
			end = rows
		}
		ranges = append(ranges, rowRange{start: start, end: end})
	}
	return ranges
}
