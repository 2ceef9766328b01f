package infer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Sample is one unit of inference work: one file per model input slot,
// associated by equal position in the sorted directory listings.
type Sample struct {
	Index  int
	Inputs []string
}

// Name is the base name of the sample's first input file.
func (s Sample) Name() string {
	if len(s.Inputs) == 0 {
		return ""
	}

	return filepath.Base(s.Inputs[0])
}

type PairOptions struct {
	// StrictNames requires identical file names at every position.
	StrictNames bool
}

// Pair lists every directory, sorts each listing by file name and zips the
// listings positionally. All listings must be non-empty and equally long.
func Pair(dirs []string, opts PairOptions) ([]Sample, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: no input directories", ErrEmptyInputSet)
	}

	listings := make([][]string, len(dirs))
	for i, dir := range dirs {
		files, err := ListFiles(dir)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyInputSet, dir)
		}
		listings[i] = files
	}

	n := len(listings[0])
	for i := 1; i < len(listings); i++ {
		if len(listings[i]) != n {
			return nil, fmt.Errorf("%w: %s has %d, %s has %d", ErrInputCountMismatch, dirs[0], n, dirs[i], len(listings[i]))
		}
	}

	samples := make([]Sample, n)
	for idx := range n {
		inputs := make([]string, len(listings))
		for slot, files := range listings {
			inputs[slot] = files[idx]
		}

		if opts.StrictNames {
			want := filepath.Base(inputs[0])
			for _, p := range inputs[1:] {
				if filepath.Base(p) != want {
					return nil, fmt.Errorf("%w: %s vs %s", ErrInputNameMismatch, inputs[0], p)
				}
			}
		}

		samples[idx] = Sample{Index: idx, Inputs: inputs}
	}

	return samples, nil
}

// ListFiles returns the regular files directly inside dir, sorted by name.
// Hidden files are skipped.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyInputSet, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	return files, nil
}

// DeriveSiblingDir maps the input0 directory to its input1 sibling by
// replacing the last "0" slot marker in the final path element with "1",
// e.g. preprocess_Result/00_data -> preprocess_Result/01_data.
func DeriveSiblingDir(dir string) (string, error) {
	return DeriveSlotDir(dir, 1)
}

// DeriveSlotDir is DeriveSiblingDir for an arbitrary input slot.
func DeriveSlotDir(dir string, slot int) (string, error) {
	cleaned := filepath.Clean(dir)
	parent, base := filepath.Split(cleaned)

	i := strings.LastIndex(base, "0")
	if i < 0 || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q has no slot marker; set input1_path", ErrDeriveInputDir, dir)
	}

	return filepath.Join(parent, base[:i]+strconv.Itoa(slot)+base[i+1:]), nil
}
