package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TensorInfo describes one declared model input or output. A negative
// dimension is dynamic and only known once data is bound to it.
type TensorInfo struct {
	Name  string
	DType DType
	Shape []int64
}

func (ti TensorInfo) String() string {
	dims := make([]string, len(ti.Shape))
	for i, d := range ti.Shape {
		if d < 0 {
			dims[i] = "?"
			continue
		}
		dims[i] = strconv.FormatInt(d, 10)
	}

	return fmt.Sprintf("%s:%s[%s]", ti.Name, ti.DType, strings.Join(dims, ","))
}

// IsStatic reports whether every dimension is known.
func (ti TensorInfo) IsStatic() bool {
	for _, d := range ti.Shape {
		if d < 0 {
			return false
		}
	}

	return true
}

// ByteSize returns the payload size of a static tensor.
func (ti TensorInfo) ByteSize() (int64, error) {
	if !ti.IsStatic() {
		return 0, fmt.Errorf("%s has dynamic dimensions", ti)
	}
	size := ti.DType.Size()
	if size == 0 {
		return 0, fmt.Errorf("%w %q", ErrUnsupportedDType, ti.DType)
	}

	count, err := product(ti.Shape)
	if err != nil {
		return 0, err
	}
	if count > math.MaxInt64/int64(size) {
		return 0, fmt.Errorf("shape %v overflows byte size", ti.Shape)
	}

	return count * int64(size), nil
}

// ResolveShape returns the concrete shape a payload of n bytes binds to.
// At most one dimension may be dynamic; it is derived from n.
func (ti TensorInfo) ResolveShape(n int64) ([]int64, error) {
	size := ti.DType.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDType, ti.DType)
	}

	dynamic := -1
	static := make([]int64, 0, len(ti.Shape))
	for i, d := range ti.Shape {
		if d >= 0 {
			static = append(static, d)
			continue
		}
		if dynamic >= 0 {
			return nil, fmt.Errorf("%s has more than one dynamic dimension", ti)
		}
		dynamic = i
	}

	count, err := product(static)
	if err != nil {
		return nil, err
	}
	if count > math.MaxInt64/int64(size) {
		return nil, fmt.Errorf("shape %v overflows byte size", ti.Shape)
	}
	unit := count * int64(size)

	shape := append([]int64(nil), ti.Shape...)
	if dynamic < 0 {
		if n != unit {
			return nil, fmt.Errorf("%s expects %d bytes, got %d", ti, unit, n)
		}

		return shape, nil
	}

	if unit == 0 || n%unit != 0 {
		return nil, fmt.Errorf("%s expects a multiple of %d bytes, got %d", ti, unit, n)
	}
	shape[dynamic] = n / unit

	return shape, nil
}

func product(shape []int64) (int64, error) {
	count := int64(1)
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("shape[%d]=%d is not static", i, dim)
		}
		if dim != 0 && count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}

	return count, nil
}
