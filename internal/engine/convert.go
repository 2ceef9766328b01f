package engine

import (
	"encoding/binary"
	"fmt"
)

// Payloads are little-endian element dumps.

func decodeSlice[T float32 | int64](data []byte) ([]T, error) {
	var zero T
	size := binary.Size(zero)
	if len(data)%size != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(data), size)
	}

	out := make([]T, len(data)/size)
	if _, err := binary.Decode(data, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	return out, nil
}

func encodeSlice[T any](data []T) ([]byte, error) {
	out, err := binary.Append(nil, binary.LittleEndian, data)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return out, nil
}
