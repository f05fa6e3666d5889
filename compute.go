package main

import (
	"fmt"
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Parallel execution of matrix multiplication using goroutines.
//
// The BiDAF forward and backward passes are dominated by matmuls of shape
// (context_len × features) @ (features × hidden). Output rows are split
// across workers; each worker writes a disjoint block, so results are
// bit-identical to the single-threaded path and evaluation stays
// deterministic regardless of worker count.
//
// The worker count is decided once at startup by device selection
// (device.go) and installed with SetGlobalComputeConfig. Nothing else in
// the pipeline runs concurrently.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU().
	NumWorkers int

	// MinSizeForParallel is the minimum output row count before
	// parallelization is used. Small matrices lose to goroutine overhead.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0,
		MinSizeForParallel: 64,
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

// numWorkers returns the actual number of workers to use.
func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize determines if an operation should use parallelization
// based on the problem size.
func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && c.numWorkers() > 1 && size >= c.MinSizeForParallel
}

// Global compute configuration, set once by device selection.
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// MatMulWithConfig performs matrix multiplication with the given config.
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k := a.shape[0], a.shape[1]
	if b.shape[0] != k {
		panic(fmt.Sprintf("tensor: incompatible dimensions for matmul %v @ %v", a.shape, b.shape))
	}
	n := b.shape[1]
	out := NewTensor(m, n)

	if !cfg.shouldParallelize(m) {
		matmulRows(a, b, out, 0, m, n, k)
		return out
	}

	numWorkers := cfg.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for start := 0; start < m; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > m {
			end = m
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			matmulRows(a, b, out, start, end, n, k)
		}(start, end)
	}
	wg.Wait()

	return out
}

// matmulRows computes output rows [startRow, endRow). The i-k-j loop order
// streams rows of B, which is what keeps this usable without blocking.
func matmulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		outRow := out.data[i*n : (i+1)*n]
		aRow := a.data[i*k : (i+1)*k]
		for kk, av := range aRow {
			if av == 0 {
				continue
			}
			bRow := b.data[kk*n : (kk+1)*n]
			for j, bv := range bRow {
				outRow[j] += av * bv
			}
		}
	}
}
