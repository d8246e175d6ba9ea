// Package device picks the compute device a run is bound to and provides
// the matmul backends that execute on it.
package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/scttfrdmn/devblock/internal/tensor"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// There are two kinds of device: the CPU, where matmul runs as goroutines
// over row blocks (tensor.ParallelMatMul), and CUDA accelerators, where it
// runs as cuBLAS DGEMM. Both sit behind the Backend interface so the model
// never needs to know which one it got.
//
// The CUDA code only exists in builds with `-tags cuda` on linux+cgo. Every
// other build sees a stub system reporting zero accelerators, and resolution
// falls back to the CPU exactly as it would on a machine without a GPU.
//
// ===========================================================================

// Kind identifies the type of a compute device.
type Kind string

const (
	// CPU runs on host cores.
	CPU Kind = "cpu"
	// CUDA runs on an NVIDIA accelerator.
	CUDA Kind = "cuda"
)

var (
	// ErrNoAccelerator is returned when an accelerator is requested but none
	// is usable in this build or on this host.
	ErrNoAccelerator = errors.New("device: no accelerator available")

	// ErrInvalidOrdinal is returned when an accelerator index does not name a
	// visible device.
	ErrInvalidOrdinal = errors.New("device: invalid device ordinal")
)

// Device is a resolved compute target.
type Device struct {
	Kind  Kind
	Index int
}

// String formats the device as "cpu" or "cuda:N".
func (d Device) String() string {
	if d.Kind == CPU {
		return string(CPU)
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// IsAccelerator reports whether the device is not the CPU.
func (d Device) IsAccelerator() bool {
	return d.Kind != CPU
}

// Backend executes tensor operations on one device.
type Backend interface {
	Device() Device
	Name() string
	MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// Accelerators enumerates and opens the accelerators visible to the process.
type Accelerators interface {
	Count() int
	Open(index int) (Backend, error)
}

// Request carries the user's device preferences.
type Request struct {
	// Type is "cpu" or "gpu", compared case-insensitively.
	Type string
	// Single binds to the accelerator named by Index instead of cuda:0.
	Single bool
	// Index is the accelerator ordinal as given on the command line.
	Index string
}

// ParseIndex converts an accelerator ordinal string to an int.
func ParseIndex(s string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidOrdinal, "parse %q", s)
	}
	if idx < 0 {
		return 0, errors.Wrapf(ErrInvalidOrdinal, "negative index %d", idx)
	}
	return idx, nil
}

// Resolve picks the device for a request:
//
//   - a cpu request, or a host without accelerators, gets the CPU;
//   - a single-device request gets the accelerator at req.Index;
//   - anything else gets accelerator 0.
//
// Whether the chosen ordinal exists is decided when it is opened.
func Resolve(req Request, acc Accelerators) (Device, error) {
	if strings.EqualFold(req.Type, string(CPU)) || acc.Count() == 0 {
		return Device{Kind: CPU}, nil
	}
	if req.Single {
		idx, err := ParseIndex(req.Index)
		if err != nil {
			return Device{}, err
		}
		return Device{Kind: CUDA, Index: idx}, nil
	}
	return Device{Kind: CUDA, Index: 0}, nil
}

// Open returns a backend for a resolved device. CPU backends use cfg;
// accelerators come from acc.
func Open(dev Device, acc Accelerators, cfg tensor.ComputeConfig) (Backend, error) {
	switch dev.Kind {
	case CPU:
		return NewCPUBackend(cfg), nil
	case CUDA:
		b, err := acc.Open(dev.Index)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", dev)
		}
		return b, nil
	default:
		return nil, errors.Errorf("device: unknown kind %q", dev.Kind)
	}
}

// OpenAll opens every visible accelerator, closing the ones already opened
// if any fails.
func OpenAll(acc Accelerators) ([]Backend, error) {
	n := acc.Count()
	if n == 0 {
		return nil, ErrNoAccelerator
	}

	backends := make([]Backend, 0, n)
	for i := 0; i < n; i++ {
		b, err := acc.Open(i)
		if err != nil {
			CloseAll(backends)
			return nil, errors.Wrapf(err, "open cuda:%d", i)
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// CloseAll closes every backend and returns the first error.
func CloseAll(backends []Backend) error {
	var first error
	for _, b := range backends {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
