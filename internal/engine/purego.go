package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// pureModel wraps an ORT session created through the purego binding.
type pureModel struct {
	path    string
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
	sig     Signature
}

func loadPurego(path, signaturePath string, device DeviceConfig, rc RuntimeConfig) (Model, error) {
	if device.Provider != ProviderCPU {
		return nil, fmt.Errorf("backend %s supports provider %s only, got %s", BackendPurego, ProviderCPU, device.Provider)
	}

	if signaturePath == "" {
		signaturePath = filepath.Join(filepath.Dir(path), "manifest.json")
	}

	sig, err := LoadManifestSignature(signaturePath, path)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if len(sig.Inputs) == 0 {
		return nil, ErrEmptyInputSignature
	}
	for _, info := range append(append([]TensorInfo(nil), sig.Inputs...), sig.Outputs...) {
		if info.DType != DTypeFloat32 && info.DType != DTypeInt64 {
			return nil, fmt.Errorf("backend %s: tensor %s: %w %q", BackendPurego, info.Name, ErrUnsupportedDType, info.DType)
		}
	}

	info, err := DetectRuntime(rc)
	if err != nil {
		return nil, err
	}

	apiVersion := rc.APIVersion
	if apiVersion == 0 {
		apiVersion = DefaultAPIVersion
	}

	runtime, err := ort.NewRuntime(info.LibraryPath, apiVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime (lib=%q api=%d): %w", info.LibraryPath, apiVersion, err)
	}

	env, err := runtime.NewEnv("nninfer", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env: %w", err)
	}

	session, err := runtime.NewSession(env, path, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()

		return nil, fmt.Errorf("ort session (%s): %w", path, err)
	}

	return &pureModel{
		path:    path,
		runtime: runtime,
		env:     env,
		session: session,
		sig:     sig,
	}, nil
}

func (m *pureModel) Inputs() []TensorInfo  { return append([]TensorInfo(nil), m.sig.Inputs...) }
func (m *pureModel) Outputs() []TensorInfo { return append([]TensorInfo(nil), m.sig.Outputs...) }

func (m *pureModel) Predict(ctx context.Context, inputs []Tensor) ([]Tensor, error) {
	if err := checkInputs(m.sig.Inputs, inputs); err != nil {
		return nil, err
	}

	ortInputs := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(ortInputs)

	for i, t := range inputs {
		name := m.sig.Inputs[i].Name
		v, err := tensorToORT(m.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		ortInputs[name] = v
	}

	ortOutputs, err := m.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", filepath.Base(m.path), err)
	}
	defer closeORTValues(ortOutputs)

	names := outputOrder(m.sig.Outputs, ortOutputs)
	results := make([]Tensor, 0, len(names))
	for _, name := range names {
		v, ok := ortOutputs[name]
		if !ok {
			return nil, fmt.Errorf("output %q missing from run result", name)
		}

		t, err := ortToTensor(name, v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}

		results = append(results, t)
	}

	return results, nil
}

// Close releases all ORT resources. Safe to call multiple times.
func (m *pureModel) Close() error {
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}

	if m.env != nil {
		m.env.Close()
		m.env = nil
	}

	if m.runtime != nil {
		err := m.runtime.Close()
		m.runtime = nil

		return err
	}

	return nil
}

// outputOrder uses the declared output order and falls back to sorted names
// when the manifest lists no outputs.
func outputOrder(declared []TensorInfo, got map[string]*ort.Value) []string {
	if len(declared) > 0 {
		names := make([]string, len(declared))
		for i, d := range declared {
			names[i] = d.Name
		}

		return names
	}

	names := make([]string, 0, len(got))
	for name := range got {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func tensorToORT(runtime *ort.Runtime, t Tensor) (*ort.Value, error) {
	switch t.DType {
	case DTypeFloat32:
		data, err := decodeSlice[float32](t.Data)
		if err != nil {
			return nil, err
		}

		return ort.NewTensorValue(runtime, data, t.Shape)
	case DTypeInt64:
		data, err := decodeSlice[int64](t.Data)
		if err != nil {
			return nil, err
		}

		return ort.NewTensorValue(runtime, data, t.Shape)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDType, t.DType)
	}
}

func ortToTensor(name string, v *ort.Value) (Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return Tensor{}, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return Tensor{}, err
		}

		raw, err := encodeSlice(data)
		if err != nil {
			return Tensor{}, err
		}

		return Tensor{TensorInfo: TensorInfo{Name: name, DType: DTypeFloat32, Shape: shape}, Data: raw}, nil
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return Tensor{}, err
		}

		raw, err := encodeSlice(data)
		if err != nil {
			return Tensor{}, err
		}

		return Tensor{TensorInfo: TensorInfo{Name: name, DType: DTypeInt64, Shape: shape}, Data: raw}, nil
	default:
		return Tensor{}, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
