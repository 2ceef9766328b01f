// Package engine builds device-bound ONNX models and runs prediction on raw
// byte tensors. Two ONNX Runtime bindings are available as backends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidModelPath    = errors.New("invalid model path")
	ErrModelBuildFailed    = errors.New("model build failed")
	ErrEmptyInputSignature = errors.New("invalid model, inputs is empty")
	ErrUnsupportedDType    = errors.New("unsupported tensor dtype")
)

const (
	BackendPurego = "purego"
	BackendCgo    = "cgo"
)

// Model is a built graph bound to a device. It is owned by the caller and
// must be closed once; it is not safe for concurrent use.
type Model interface {
	// Inputs returns the declared input signature in positional order.
	Inputs() []TensorInfo
	// Outputs returns the declared outputs in the order Predict returns them.
	Outputs() []TensorInfo
	Predict(ctx context.Context, inputs []Tensor) ([]Tensor, error)
	Close() error
}

type LoadOptions struct {
	Path    string
	Backend string
	// SignaturePath is the graph manifest used by backends that cannot
	// introspect the model file.
	SignaturePath string
	Device        DeviceConfig
	Runtime       RuntimeConfig
}

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendPurego
	}
	switch backend {
	case BackendPurego, BackendCgo:
		return backend, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected %s|%s)", raw, BackendPurego, BackendCgo)
	}
}

// Load validates the model path, builds the graph against the configured
// device and checks that it declares at least one input.
func Load(opts LoadOptions) (Model, error) {
	path, err := realPath(opts.Path)
	if err != nil {
		return nil, err
	}

	backend, err := NormalizeBackend(opts.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelBuildFailed, err)
	}

	device, err := opts.Device.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelBuildFailed, err)
	}

	var m Model
	switch backend {
	case BackendCgo:
		m, err = loadCgo(path, device, opts.Runtime)
	default:
		m, err = loadPurego(path, opts.SignaturePath, device, opts.Runtime)
	}
	if errors.Is(err, ErrEmptyInputSignature) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelBuildFailed, err)
	}

	if len(m.Inputs()) == 0 {
		_ = m.Close()
		return nil, ErrEmptyInputSignature
	}

	slog.Info(
		"model built",
		"path", path,
		"backend", backend,
		"provider", device.Provider,
		"device_id", device.ID,
		"precision_mode", device.PrecisionMode,
		"inputs", infoNames(m.Inputs()),
		"outputs", infoNames(m.Outputs()),
	)

	return m, nil
}

func realPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidModelPath)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidModelPath, path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidModelPath, path, err)
	}

	st, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidModelPath, path, err)
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidModelPath, path)
	}

	return resolved, nil
}

func infoNames(infos []TensorInfo) string {
	names := make([]string, 0, len(infos))
	for _, in := range infos {
		names = append(names, in.Name)
	}

	return strings.Join(names, ",")
}
