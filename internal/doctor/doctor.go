// Package doctor provides environment preflight checks for nninfer.
package doctor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/example/nninfer/internal/engine"
	"github.com/example/nninfer/internal/hostinfo"
	"github.com/example/nninfer/internal/infer"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// DetectRuntime locates the ONNX Runtime library.
	DetectRuntime func() (engine.RuntimeInfo, error)
	// MinORTMinor is the lowest accepted 1.x ONNX Runtime release.
	MinORTMinor int
	// ModelPath is the model graph that must exist on disk.
	ModelPath string
	// InputDirs are paired exactly as a run would pair them.
	InputDirs   []string
	StrictNames bool
	// CPU describes the host processor.
	CPU func() hostinfo.CPU
	// Provider and DeviceID select the accelerator; "cpu" skips the CUDA check.
	Provider    string
	DeviceID    int
	CUDADevices func() (int, []hostinfo.GPU, error)
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime -----------------------------------------------------
	if cfg.DetectRuntime != nil {
		info, err := cfg.DetectRuntime()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		case info.Version == "" || info.Version == "unknown":
			fmt.Fprintf(w, "%s onnx runtime: %s (version unknown)\n", PassMark, info.LibraryPath)
		default:
			if verErr := checkORTVersion(info.Version, cfg.MinORTMinor); verErr != nil {
				res.fail(fmt.Sprintf("onnx runtime version: %v", verErr))
				fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, info.Version, verErr)
			} else {
				fmt.Fprintf(w, "%s onnx runtime: %s (%s)\n", PassMark, info.LibraryPath, info.Version)
			}
		}
	}

	// ---- model file -------------------------------------------------------
	if cfg.ModelPath == "" {
		res.fail("model file: --mindir_path not set")
		fmt.Fprintf(w, "%s model file: not set\n", FailMark)
	} else if st, err := os.Stat(cfg.ModelPath); err != nil {
		res.fail(fmt.Sprintf("model file %q: %v", cfg.ModelPath, err))
		fmt.Fprintf(w, "%s model file %s: not found\n", FailMark, cfg.ModelPath)
	} else if !st.Mode().IsRegular() {
		res.fail(fmt.Sprintf("model file %q: not a regular file", cfg.ModelPath))
		fmt.Fprintf(w, "%s model file %s: not a regular file\n", FailMark, cfg.ModelPath)
	} else {
		fmt.Fprintf(w, "%s model file: %s (%d bytes)\n", PassMark, cfg.ModelPath, st.Size())
	}

	// ---- input pairing ----------------------------------------------------
	if len(cfg.InputDirs) > 0 {
		samples, err := infer.Pair(cfg.InputDirs, infer.PairOptions{StrictNames: cfg.StrictNames})
		if err != nil {
			res.fail(fmt.Sprintf("input pairing: %v", err))
			fmt.Fprintf(w, "%s input pairing: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s input pairing: %d samples across %s\n", PassMark, len(samples), strings.Join(cfg.InputDirs, ", "))
		}
	}

	// ---- host cpu ---------------------------------------------------------
	if cfg.CPU != nil {
		fmt.Fprintf(w, "%s host cpu: %s\n", PassMark, cfg.CPU())
	}

	// ---- cuda devices -----------------------------------------------------
	provider := strings.ToLower(cfg.Provider)
	if provider == "" || provider == engine.ProviderCPU || cfg.CUDADevices == nil {
		fmt.Fprintf(w, "%s cuda devices: skipped (provider %s)\n", PassMark, orDefault(provider, engine.ProviderCPU))
	} else {
		ver, gpus, err := cfg.CUDADevices()
		switch {
		case errors.Is(err, hostinfo.ErrCUDAUnavailable):
			res.fail(fmt.Sprintf("cuda devices: %v (rebuild with -tags cuda)", err))
			fmt.Fprintf(w, "%s cuda devices: %v\n", FailMark, err)
		case err != nil:
			res.fail(fmt.Sprintf("cuda devices: %v", err))
			fmt.Fprintf(w, "%s cuda devices: %v\n", FailMark, err)
		default:
			for _, g := range gpus {
				fmt.Fprintf(w, "  %s\n", g)
			}
			if idErr := hostinfo.CheckDeviceID(gpus, cfg.DeviceID); idErr != nil {
				res.fail(fmt.Sprintf("cuda devices: %v", idErr))
				fmt.Fprintf(w, "%s cuda devices: %v\n", FailMark, idErr)
			} else {
				fmt.Fprintf(w, "%s cuda devices: %d (driver %d), using #%d\n", PassMark, len(gpus), ver, cfg.DeviceID)
			}
		}
	}

	return res
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}

	return s
}

// checkORTVersion returns an error unless ver is a 1.x release with minor
// version at least minMinor. ver is expected to be a string like "1.23.2".
func checkORTVersion(ver string, minMinor int) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < minMinor {
		return fmt.Errorf("requires ONNX Runtime >=1.%d, got 1.%d", minMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
