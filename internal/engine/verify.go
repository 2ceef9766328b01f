package engine

import (
	"context"
	"fmt"
)

// NewZeroTensor returns a zero-filled tensor for info. Dynamic dimensions
// are bound to 1.
func NewZeroTensor(info TensorInfo) (Tensor, error) {
	shape := make([]int64, len(info.Shape))
	for i, d := range info.Shape {
		if d < 0 {
			d = 1
		}
		shape[i] = d
	}
	info.Shape = shape

	size, err := info.ByteSize()
	if err != nil {
		return Tensor{}, err
	}

	return Tensor{TensorInfo: info, Data: make([]byte, size)}, nil
}

// Smoke runs one prediction on zero-filled inputs and checks that the model
// returns as many outputs as it declares.
func Smoke(ctx context.Context, m Model) error {
	declared := m.Inputs()
	inputs := make([]Tensor, len(declared))
	for i, info := range declared {
		t, err := NewZeroTensor(info)
		if err != nil {
			return fmt.Errorf("build input %q tensor: %w", info.Name, err)
		}
		inputs[i] = t
	}

	outputs, err := m.Predict(ctx, inputs)
	if err != nil {
		return fmt.Errorf("run inference: %w", err)
	}

	if want := len(m.Outputs()); want > 0 && len(outputs) != want {
		return fmt.Errorf("model declares %d outputs, returned %d", want, len(outputs))
	}

	return nil
}
