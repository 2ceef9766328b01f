//go:build cuda

package hostinfo

import (
	"fmt"

	"gorgonia.org/cu"
)

// CUDADevices enumerates the CUDA devices visible to the driver.
func CUDADevices() (version int, gpus []GPU, err error) {
	n, err := cu.NumDevices()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrCUDAUnavailable, err)
	}

	for d := range n {
		dev := cu.Device(d)
		g := GPU{Index: d}
		if g.Name, err = dev.Name(); err != nil {
			return 0, nil, fmt.Errorf("device %d name: %w", d, err)
		}
		if g.TotalMemory, err = dev.TotalMem(); err != nil {
			return 0, nil, fmt.Errorf("device %d memory: %w", d, err)
		}
		g.ComputeMajor, _ = dev.Attribute(cu.ComputeCapabilityMajor)
		g.ComputeMinor, _ = dev.Attribute(cu.ComputeCapabilityMinor)
		gpus = append(gpus, g)
	}

	return cu.Version(), gpus, nil
}
