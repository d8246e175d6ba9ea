package tensor

import (
	"runtime"
	"sync"
	"time"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Parallel execution of matrix multiply using goroutines. The output rows
// are split into contiguous blocks, one block per worker. Workers never write
// to the same row, so no locking is needed beyond the final WaitGroup.
//
// For the (64, 1024) @ (1024, 1024) product the linear layer runs, that's
// 64 rows spread over the available cores. Don't expect a linear speedup:
// the 8 MB weight matrix is shared by every worker and memory bandwidth runs
// out long before the ALUs do.
//
// The inner loops use i-k-j order so the innermost loop walks both B and
// the output row contiguously.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU().
	// Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel specifies the minimum row count before
	// parallelization is used. Small products don't repay goroutine overhead.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0, // Use all available CPUs
		MinSizeForParallel: 16,
	}
}

// SingleThreadedConfig returns a configuration for single-threaded execution.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && size >= c.MinSizeForParallel
}

var (
	globalMu            sync.RWMutex
	globalComputeConfig = DefaultComputeConfig()
)

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalComputeConfig
}

// MatMulWithConfig performs matrix multiplication with the given config.
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if cfg.Parallel {
		return ParallelMatMul(a, b, cfg)
	}

	m, n, k := matmulDims(a, b)
	start := time.Now()
	out := New(m, n)
	matmulRows(a, b, out, 0, m, n, k)
	Stats.RecordOp(false, time.Since(start).Nanoseconds())
	return out
}

// ParallelMatMul performs parallel matrix multiplication: C = A @ B.
//
// Each worker computes a contiguous block of output rows. Falls back to the
// single-threaded path when the row count is below cfg.MinSizeForParallel.
func ParallelMatMul(a, b *Tensor, cfg ComputeConfig) *Tensor {
	m, n, k := matmulDims(a, b)
	start := time.Now()
	out := New(m, n)

	if !cfg.shouldParallelize(m) {
		matmulRows(a, b, out, 0, m, n, k)
		Stats.RecordOp(false, time.Since(start).Nanoseconds())
		return out
	}

	numWorkers := cfg.numWorkers()
	if numWorkers > m {
		numWorkers = m
	}
	rowsPerWorker := (m + numWorkers - 1) / numWorkers // Ceiling division

	var wg sync.WaitGroup
	for startRow := 0; startRow < m; startRow += rowsPerWorker {
		endRow := startRow + rowsPerWorker
		if endRow > m {
			endRow = m
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			matmulRows(a, b, out, s, e, n, k)
		}(startRow, endRow)
	}
	wg.Wait()

	Stats.RecordOp(true, time.Since(start).Nanoseconds())
	return out
}

func matmulDims(a, b *Tensor) (m, n, k int) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}
	if a.shape[1] != b.shape[0] {
		panic("tensor: incompatible dimensions for matmul")
	}
	return a.shape[0], b.shape[1], a.shape[1]
}

// matmulRows computes output rows [startRow, endRow).
func matmulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		outRow := out.data[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			aik := a.data[i*k+kk]
			bRow := b.data[kk*n : (kk+1)*n]
			for j, bv := range bRow {
				outRow[j] += aik * bv
			}
		}
	}
}

// ComputeStats tracks performance statistics for compute operations.
type ComputeStats struct {
	mu                sync.Mutex
	TotalOps          int64
	ParallelOps       int64
	SingleThreadedOps int64
	TotalTimeNs       int64
}

// Stats collects statistics for every matmul in the process.
var Stats ComputeStats

// RecordOp records a compute operation for statistics.
func (cs *ComputeStats) RecordOp(parallel bool, durationNs int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.TotalOps++
	cs.TotalTimeNs += durationNs

	if parallel {
		cs.ParallelOps++
	} else {
		cs.SingleThreadedOps++
	}
}

// StatsSnapshot is a point-in-time copy of ComputeStats.
type StatsSnapshot struct {
	TotalOps          int64
	ParallelOps       int64
	SingleThreadedOps int64
	TotalTimeNs       int64
}

// Snapshot returns a copy of the current statistics.
func (cs *ComputeStats) Snapshot() StatsSnapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return StatsSnapshot{
		TotalOps:          cs.TotalOps,
		ParallelOps:       cs.ParallelOps,
		SingleThreadedOps: cs.SingleThreadedOps,
		TotalTimeNs:       cs.TotalTimeNs,
	}
}

// Reset clears all statistics.
func (cs *ComputeStats) Reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.TotalOps = 0
	cs.ParallelOps = 0
	cs.SingleThreadedOps = 0
	cs.TotalTimeNs = 0
}
