package infer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/nninfer/internal/engine"
)

// DefaultResultDir matches the layout downstream scoring scripts read from.
const DefaultResultDir = "./result_Files"

// ResultWriter persists output tensors as raw bytes with no header or framing.
type ResultWriter struct {
	Dir string
	// Split writes one <stem>_<i>.bin file per output instead of one
	// concatenated <stem>.bin file per sample.
	Split bool
}

// ResultStem is the input file name without its last extension.
func ResultStem(input string) string {
	name := filepath.Base(input)

	return strings.TrimSuffix(name, filepath.Ext(name))
}

// CheckResultStems fails when two samples would write the same result file.
func CheckResultStems(samples []Sample) error {
	seen := make(map[string]string, len(samples))
	for _, s := range samples {
		if len(s.Inputs) == 0 {
			continue
		}
		stem := ResultStem(s.Inputs[0])
		if prev, ok := seen[stem]; ok {
			return fmt.Errorf("%w: %s and %s both map to %q", ErrResultNameCollision, prev, s.Inputs[0], stem)
		}
		seen[stem] = s.Inputs[0]
	}

	return nil
}

// Write stores outputs for the sample whose first input is input and
// returns the files it wrote.
func (w ResultWriter) Write(input string, outputs []engine.Tensor) ([]string, error) {
	dir := w.Dir
	if dir == "" {
		dir = DefaultResultDir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultWriteFailed, err)
	}

	stem := ResultStem(input)

	if !w.Split {
		path := filepath.Join(dir, stem+".bin")
		payloads := make([][]byte, len(outputs))
		for i, out := range outputs {
			payloads[i] = out.Data
		}
		if err := writeFileAtomic(path, payloads...); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrResultWriteFailed, path, err)
		}

		return []string{path}, nil
	}

	written := make([]string, 0, len(outputs))
	for i, out := range outputs {
		path := filepath.Join(dir, stem+"_"+strconv.Itoa(i)+".bin")
		if err := writeFileAtomic(path, out.Data); err != nil {
			return written, fmt.Errorf("%w: %s: %w", ErrResultWriteFailed, path, err)
		}
		written = append(written, path)
	}

	return written, nil
}

// writeFileAtomic writes the payloads back to back into a temp file in the
// target directory and renames it into place.
func writeFileAtomic(path string, payloads ...[]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	for _, p := range payloads {
		if _, err := tmp.Write(p); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)

			return err
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return nil
}
