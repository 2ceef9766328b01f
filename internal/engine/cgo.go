//go:build cgo

package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The cgo binding keeps one ORT environment per process; models share it
// through a reference count so each Model still owns its own lifetime.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		ort.SetSharedLibraryPath(libraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime environment: %w", err)
		}
	}
	envRefs++

	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs > 0 {
		return nil
	}

	return ort.DestroyEnvironment()
}

var elementTypes = map[DType]ort.TensorElementDataType{
	DTypeFloat16: ort.TensorElementDataTypeFloat16,
	DTypeFloat32: ort.TensorElementDataTypeFloat,
	DTypeFloat64: ort.TensorElementDataTypeDouble,
	DTypeInt8:    ort.TensorElementDataTypeInt8,
	DTypeUint8:   ort.TensorElementDataTypeUint8,
	DTypeInt16:   ort.TensorElementDataTypeInt16,
	DTypeUint16:  ort.TensorElementDataTypeUint16,
	DTypeInt32:   ort.TensorElementDataTypeInt32,
	DTypeUint32:  ort.TensorElementDataTypeUint32,
	DTypeInt64:   ort.TensorElementDataTypeInt64,
	DTypeUint64:  ort.TensorElementDataTypeUint64,
	DTypeBool:    ort.TensorElementDataTypeBool,
}

func dtypeFromElementType(et ort.TensorElementDataType) (DType, error) {
	for d, t := range elementTypes {
		if t == et {
			return d, nil
		}
	}

	return "", fmt.Errorf("%w: ORT element type %d", ErrUnsupportedDType, et)
}

type cgoModel struct {
	path    string
	session *ort.DynamicAdvancedSession
	inputs  []TensorInfo
	outputs []TensorInfo
}

func loadCgo(path string, device DeviceConfig, rc RuntimeConfig) (_ Model, err error) {
	info, err := DetectRuntime(rc)
	if err != nil {
		return nil, err
	}

	if err := acquireEnvironment(info.LibraryPath); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = releaseEnvironment()
		}
	}()

	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read graph signature: %w", err)
	}

	inputs, err := fromIOInfo(inInfo)
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if len(inputs) == 0 {
		return nil, ErrEmptyInputSignature
	}

	outputs, err := fromIOInfo(outInfo)
	if err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}

	options, err := sessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer func() { _ = options.Destroy() }()

	session, err := ort.NewDynamicAdvancedSession(path, tensorNames(inputs), tensorNames(outputs), options)
	if err != nil {
		return nil, fmt.Errorf("ort session (%s): %w", path, err)
	}

	return &cgoModel{
		path:    path,
		session: session,
		inputs:  inputs,
		outputs: outputs,
	}, nil
}

func sessionOptions(device DeviceConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}

	if device.Threads > 0 {
		if err := options.SetIntraOpNumThreads(device.Threads); err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	deviceID := strconv.Itoa(device.ID)

	switch device.Provider {
	case ProviderCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer func() { _ = cudaOpts.Destroy() }()

		if err := cudaOpts.Update(map[string]string{"device_id": deviceID}); err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("cuda provider device %s: %w", deviceID, err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	case ProviderTensorRT:
		trtOpts, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("tensorrt provider options: %w", err)
		}
		defer func() { _ = trtOpts.Destroy() }()

		fp16 := "0"
		if device.AllowsFP16() {
			fp16 = "1"
		}
		if err := trtOpts.Update(map[string]string{"device_id": deviceID, "trt_fp16_enable": fp16}); err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("tensorrt provider device %s: %w", deviceID, err)
		}
		if err := options.AppendExecutionProviderTensorRT(trtOpts); err != nil {
			_ = options.Destroy()
			return nil, fmt.Errorf("append tensorrt provider: %w", err)
		}
	}

	return options, nil
}

func fromIOInfo(infos []ort.InputOutputInfo) ([]TensorInfo, error) {
	out := make([]TensorInfo, 0, len(infos))
	for _, in := range infos {
		if in.OrtValueType != ort.ONNXTypeTensor {
			return nil, fmt.Errorf("%q is not a tensor", in.Name)
		}

		dtype, err := dtypeFromElementType(in.DataType)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", in.Name, err)
		}

		shape := make([]int64, len(in.Dimensions))
		for i, d := range in.Dimensions {
			shape[i] = max(d, -1)
		}

		out = append(out, TensorInfo{Name: in.Name, DType: dtype, Shape: shape})
	}

	return out, nil
}

func tensorNames(infos []TensorInfo) []string {
	names := make([]string, len(infos))
	for i, in := range infos {
		names[i] = in.Name
	}

	return names
}

func (m *cgoModel) Inputs() []TensorInfo  { return append([]TensorInfo(nil), m.inputs...) }
func (m *cgoModel) Outputs() []TensorInfo { return append([]TensorInfo(nil), m.outputs...) }

func (m *cgoModel) Predict(_ context.Context, inputs []Tensor) ([]Tensor, error) {
	if err := checkInputs(m.inputs, inputs); err != nil {
		return nil, err
	}

	in := make([]ort.Value, len(inputs))
	defer destroyValues(in)

	for i, t := range inputs {
		v, err := ort.NewCustomDataTensor(ort.NewShape(t.Shape...), t.Data, elementTypes[t.DType])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", m.inputs[i].Name, err)
		}
		in[i] = v
	}

	// Static outputs are preallocated; dynamic ones are allocated by ORT.
	out := make([]ort.Value, len(m.outputs))
	defer destroyValues(out)

	for i, info := range m.outputs {
		if !info.IsStatic() {
			continue
		}

		size, err := info.ByteSize()
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", info.Name, err)
		}

		v, err := ort.NewCustomDataTensor(ort.NewShape(info.Shape...), make([]byte, size), elementTypes[info.DType])
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", info.Name, err)
		}
		out[i] = v
	}

	if err := m.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("run %s: %w", filepath.Base(m.path), err)
	}

	results := make([]Tensor, len(out))
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("output %q was not produced", m.outputs[i].Name)
		}

		data, err := valueBytes(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", m.outputs[i].Name, err)
		}

		info := m.outputs[i]
		info.Shape = append([]int64(nil), v.GetShape()...)
		results[i] = Tensor{TensorInfo: info, Data: data}
	}

	return results, nil
}

// Close releases the session and drops this model's hold on the environment.
func (m *cgoModel) Close() error {
	if m.session == nil {
		return nil
	}

	err := m.session.Destroy()
	m.session = nil
	if envErr := releaseEnvironment(); err == nil {
		err = envErr
	}

	return err
}

func valueBytes(v ort.Value) ([]byte, error) {
	switch t := v.(type) {
	case *ort.CustomDataTensor:
		return append([]byte(nil), t.GetData()...), nil
	case *ort.Tensor[float32]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[float64]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[int8]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[uint8]:
		return append([]byte(nil), t.GetData()...), nil
	case *ort.Tensor[int16]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[uint16]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[int32]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[uint32]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[int64]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	case *ort.Tensor[uint64]:
		return binary.Append(nil, binary.LittleEndian, t.GetData())
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}

func destroyValues(vals []ort.Value) {
	for _, v := range vals {
		if v != nil {
			_ = v.Destroy()
		}
	}
}
