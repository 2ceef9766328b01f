package infer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/example/nninfer/internal/engine"
)

// Materialize reads path into a buffer sized to the file and binds it to
// the declared input info. Name, dtype and shape come from info; the payload
// is the verbatim file content.
func Materialize(path string, info engine.TensorInfo) (engine.Tensor, error) {
	data, err := readExact(path)
	if err != nil {
		return engine.Tensor{}, err
	}

	t, err := engine.NewTensor(info, data)
	if err != nil {
		if errors.Is(err, engine.ErrUnsupportedDType) {
			return engine.Tensor{}, fmt.Errorf("materialize %s: %w", path, err)
		}

		return engine.Tensor{}, fmt.Errorf("%w: %s: %w", ErrPayloadSizeMismatch, path, err)
	}

	return t, nil
}

func readExact(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileReadError, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileReadError, err)
	}

	buf := make([]byte, st.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileReadError, path, err)
	}

	return buf, nil
}
