// Package enginetest provides an in-memory engine.Model for tests.
package enginetest

import (
	"context"
	"strconv"

	"github.com/example/nninfer/internal/engine"
)

// PredictFunc computes outputs for one call. call is 1-based.
type PredictFunc func(ctx context.Context, call int, inputs []engine.Tensor) ([]engine.Tensor, error)

// FakeModel records calls and delegates prediction to Fn.
type FakeModel struct {
	InputInfos  []engine.TensorInfo
	OutputInfos []engine.TensorInfo
	Fn          PredictFunc

	Calls  int
	Seen   [][]engine.Tensor
	Closed int
}

func (m *FakeModel) Inputs() []engine.TensorInfo {
	return append([]engine.TensorInfo(nil), m.InputInfos...)
}
func (m *FakeModel) Outputs() []engine.TensorInfo {
	return append([]engine.TensorInfo(nil), m.OutputInfos...)
}

func (m *FakeModel) Predict(ctx context.Context, inputs []engine.Tensor) ([]engine.Tensor, error) {
	m.Calls++
	m.Seen = append(m.Seen, inputs)
	if m.Fn == nil {
		return Echo(ctx, m.Calls, inputs)
	}

	return m.Fn(ctx, m.Calls, inputs)
}

func (m *FakeModel) Close() error {
	m.Closed++
	return nil
}

// Echo returns the inputs as outputs, renamed out0, out1, ...
func Echo(_ context.Context, _ int, inputs []engine.Tensor) ([]engine.Tensor, error) {
	out := make([]engine.Tensor, len(inputs))
	for i, in := range inputs {
		info := in.Info()
		info.Name = "out" + strconv.Itoa(i)
		out[i] = engine.Tensor{TensorInfo: info, Data: append([]byte(nil), in.Data...)}
	}

	return out, nil
}

// TwoInputs is a float32 [1,4] + int64 [1,2] signature used across tests.
func TwoInputs() []engine.TensorInfo {
	return []engine.TensorInfo{
		{Name: "source", DType: engine.DTypeFloat32, Shape: []int64{1, 4}},
		{Name: "source_mask", DType: engine.DTypeInt64, Shape: []int64{1, 2}},
	}
}
