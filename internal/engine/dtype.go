package engine

import (
	"fmt"
	"strings"
)

// DType is the element type of a tensor.
type DType string

const (
	DTypeFloat16 DType = "float16"
	DTypeFloat32 DType = "float32"
	DTypeFloat64 DType = "float64"
	DTypeInt8    DType = "int8"
	DTypeUint8   DType = "uint8"
	DTypeInt16   DType = "int16"
	DTypeUint16  DType = "uint16"
	DTypeInt32   DType = "int32"
	DTypeUint32  DType = "uint32"
	DTypeInt64   DType = "int64"
	DTypeUint64  DType = "uint64"
	DTypeBool    DType = "bool"
)

var dtypeSizes = map[DType]int{
	DTypeFloat16: 2,
	DTypeFloat32: 4,
	DTypeFloat64: 8,
	DTypeInt8:    1,
	DTypeUint8:   1,
	DTypeInt16:   2,
	DTypeUint16:  2,
	DTypeInt32:   4,
	DTypeUint32:  4,
	DTypeInt64:   8,
	DTypeUint64:  8,
	DTypeBool:    1,
}

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// ParseDType accepts the spellings used by ONNX tooling ("float", "tensor(int64)", ...).
func ParseDType(raw string) (DType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")

	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "half", "float16":
		return DTypeFloat16, nil
	case "double", "float64":
		return DTypeFloat64, nil
	case "int64", "long":
		return DTypeInt64, nil
	case "int32", "int":
		return DTypeInt32, nil
	case "bool", "boolean":
		return DTypeBool, nil
	case "int8", "uint8", "int16", "uint16", "uint32", "uint64":
		return DType(normalized), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnsupportedDType, raw)
	}
}
