// Package hostinfo describes the machine an inference run executes on.
package hostinfo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ErrCUDAUnavailable is returned when the binary was built without the
// cuda tag or no driver could be reached.
var ErrCUDAUnavailable = errors.New("cuda unavailable")

type CPU struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	// Features lists the SIMD extensions relevant to ORT CPU kernels.
	Features []string
}

func (c CPU) String() string {
	s := fmt.Sprintf("%s (%d cores / %d threads)", c.Brand, c.PhysicalCores, c.LogicalCores)
	if len(c.Features) > 0 {
		s += " " + strings.Join(c.Features, ",")
	}

	return s
}

var simdFeatures = []struct {
	name string
	ids  []cpuid.FeatureID
}{
	{"sse4.2", []cpuid.FeatureID{cpuid.SSE42}},
	{"avx2", []cpuid.FeatureID{cpuid.AVX2}},
	{"fma", []cpuid.FeatureID{cpuid.FMA3}},
	{"avx512", []cpuid.FeatureID{cpuid.AVX512F, cpuid.AVX512DQ}},
	{"avx512vnni", []cpuid.FeatureID{cpuid.AVX512VNNI}},
	{"neon", []cpuid.FeatureID{cpuid.ASIMD}},
}

func DetectCPU() CPU {
	c := CPU{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	if c.Brand == "" {
		c.Brand = "unknown cpu"
	}

	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.ids...) {
			c.Features = append(c.Features, f.name)
		}
	}

	return c
}

type GPU struct {
	Index        int
	Name         string
	TotalMemory  int64
	ComputeMajor int
	ComputeMinor int
}

func (g GPU) String() string {
	return fmt.Sprintf("#%d %s (sm_%d%d, %d MiB)", g.Index, g.Name, g.ComputeMajor, g.ComputeMinor, g.TotalMemory>>20)
}

// CheckDeviceID reports whether id addresses one of gpus.
func CheckDeviceID(gpus []GPU, id int) error {
	if id < 0 || id >= len(gpus) {
		return fmt.Errorf("device_id %d out of range: %d cuda device(s) present", id, len(gpus))
	}

	return nil
}
