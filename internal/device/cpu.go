package device

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"

	"github.com/scttfrdmn/devblock/internal/tensor"
)

// CPUBackend runs matmul on host cores.
type CPUBackend struct {
	cfg tensor.ComputeConfig
}

// NewCPUBackend creates a CPU backend with the given compute configuration.
func NewCPUBackend(cfg tensor.ComputeConfig) *CPUBackend {
	return &CPUBackend{cfg: cfg}
}

// Device returns the CPU device.
func (c *CPUBackend) Device() Device {
	return Device{Kind: CPU}
}

// Name describes the backend and its parallelism.
func (c *CPUBackend) Name() string {
	if !c.cfg.Parallel {
		return fmt.Sprintf("CPU (%s/%s, single-threaded)", runtime.GOOS, runtime.GOARCH)
	}
	workers := c.cfg.NumWorkers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return fmt.Sprintf("CPU (%s/%s, %d workers)", runtime.GOOS, runtime.GOARCH, workers)
}

// MatMul performs a @ b.
func (c *CPUBackend) MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.Dims() != 2 || b.Dims() != 2 {
		return nil, errors.New("cpu matmul requires 2D tensors")
	}
	if a.Shape()[1] != b.Shape()[0] {
		return nil, errors.Errorf("cpu matmul: incompatible dimensions %v @ %v", a.Shape(), b.Shape())
	}
	return tensor.MatMulWithConfig(a, b, c.cfg), nil
}

// Close does nothing.
func (c *CPUBackend) Close() error {
	return nil
}
