package main

import (
	"fmt"
	"log"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Device describes where tensor math runs. Only the CPU backend exists;
// a requested GPU index is recorded so the fallback can be reported.
type Device struct {
	Name         string
	RequestedGPU int
	Workers      int
	Features     []string
}

// String renders the device for the startup banner.
func (d Device) String() string {
	if len(d.Features) == 0 {
		return fmt.Sprintf("cpu (%s, %d workers)", d.Name, d.Workers)
	}
	return fmt.Sprintf("cpu (%s, %d workers, %s)", d.Name, d.Workers, strings.Join(d.Features, " "))
}

// Compute returns the matmul configuration for this device.
func (d Device) Compute() ComputeConfig {
	if d.Workers <= 1 {
		return SingleThreadedConfig()
	}
	cfg := DefaultComputeConfig()
	cfg.NumWorkers = d.Workers
	return cfg
}

// SelectDevice picks the compute device once at startup. A non-negative gpu
// index asks for an accelerator; none is available in this build, so the
// selection silently degrades to the CPU (logged, never an error).
func SelectDevice(gpu int) Device {
	if gpu >= 0 {
		log.Printf("device: gpu %d unavailable, falling back to cpu", gpu)
	}

	workers := cpuid.CPU.PhysicalCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	name := cpuid.CPU.BrandName
	if name == "" {
		name = runtime.GOARCH
	}

	var features []string
	for _, f := range []cpuid.FeatureID{cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD, cpuid.SVE} {
		if cpuid.CPU.Supports(f) {
			features = append(features, f.String())
		}
	}

	return Device{
		Name:         name,
		RequestedGPU: gpu,
		Workers:      workers,
		Features:     features,
	}
}

// UseDevice installs the device's compute configuration globally.
func UseDevice(d Device) {
	SetGlobalComputeConfig(d.Compute())
}
