// Package devicetest provides in-memory accelerators for tests that need
// more than the CPU without real GPUs.
package devicetest

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/scttfrdmn/devblock/internal/device"
	"github.com/scttfrdmn/devblock/internal/tensor"
)

// Accelerators pretends to expose N CUDA devices. Matmul runs on the CPU.
type Accelerators struct {
	N int
	// FailOpen makes Open return the mapped error for that index.
	FailOpen map[int]error

	mu     sync.Mutex
	opened []*Backend
}

// New returns n fake accelerators.
func New(n int) *Accelerators {
	return &Accelerators{N: n}
}

// Count returns N.
func (a *Accelerators) Count() int {
	return a.N
}

// Open returns a fake backend for index.
func (a *Accelerators) Open(index int) (device.Backend, error) {
	if err, ok := a.FailOpen[index]; ok {
		return nil, err
	}
	if index < 0 || index >= a.N {
		return nil, errors.Wrapf(device.ErrInvalidOrdinal, "cuda:%d (%d visible)", index, a.N)
	}

	b := &Backend{index: index}
	a.mu.Lock()
	a.opened = append(a.opened, b)
	a.mu.Unlock()
	return b, nil
}

// Opened returns every backend handed out so far.
func (a *Accelerators) Opened() []*Backend {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Backend, len(a.opened))
	copy(out, a.opened)
	return out
}

// Backend is a fake accelerator backend.
type Backend struct {
	index int
	// Err, when set, is returned from every MatMul.
	Err error

	mu     sync.Mutex
	calls  int
	rows   []int
	closed bool
}

// Device returns cuda:<index>.
func (b *Backend) Device() device.Device {
	return device.Device{Kind: device.CUDA, Index: b.index}
}

// Name identifies the fake.
func (b *Backend) Name() string {
	return "fake accelerator"
}

// MatMul multiplies on the CPU and records the call.
func (b *Backend) MatMul(x, w *tensor.Tensor) (*tensor.Tensor, error) {
	b.mu.Lock()
	b.calls++
	b.rows = append(b.rows, x.Shape()[0])
	b.mu.Unlock()

	if b.Err != nil {
		return nil, b.Err
	}
	return tensor.MatMulWithConfig(x, w, tensor.SingleThreadedConfig()), nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Calls returns how many times MatMul ran.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Rows returns the row count of each MatMul input, in call order.
func (b *Backend) Rows() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.rows))
	copy(out, b.rows)
	return out
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
