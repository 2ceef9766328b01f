package engine

import "fmt"

// Tensor is a tensor value whose payload is kept as raw little-endian
// element bytes, exactly as it is read from or written to disk.
type Tensor struct {
	TensorInfo

	Data []byte
}

// NewTensor binds data to info, resolving a dynamic dimension if present.
func NewTensor(info TensorInfo, data []byte) (Tensor, error) {
	shape, err := info.ResolveShape(int64(len(data)))
	if err != nil {
		return Tensor{}, err
	}
	info.Shape = shape

	return Tensor{TensorInfo: info, Data: data}, nil
}

// Info returns the tensor metadata.
func (t Tensor) Info() TensorInfo {
	info := t.TensorInfo
	info.Shape = append([]int64(nil), t.Shape...)

	return info
}

func checkInputs(declared []TensorInfo, inputs []Tensor) error {
	if len(inputs) != len(declared) {
		return fmt.Errorf("model declares %d inputs, got %d", len(declared), len(inputs))
	}
	for i, in := range inputs {
		if in.DType != declared[i].DType {
			return fmt.Errorf("input %d (%s): dtype %s, model expects %s", i, declared[i].Name, in.DType, declared[i].DType)
		}
	}

	return nil
}
