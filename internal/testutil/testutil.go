// Package testutil provides skip helpers and filesystem fixtures for tests.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    dir := testutil.WriteInputDir(t, t.TempDir(), "00_data", map[string][]byte{"a.bin": payload})
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the NNINFER_ORT_LIB env var, then the
// ORT_LIBRARY_PATH env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"NNINFER_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set NNINFER_ORT_LIB or ORT_LIBRARY_PATH")
}

// WriteInputDir creates root/name and writes files into it. It returns the
// directory path.
func WriteInputDir(tb testing.TB, root, name string, files map[string][]byte) string {
	tb.Helper()

	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", dir, err)
	}

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), files[n], 0o644); err != nil {
			tb.Fatalf("write %s: %v", n, err)
		}
	}

	return dir
}

// ListDir returns the sorted names of the entries in dir, or nil if dir
// does not exist.
func ListDir(tb testing.TB, dir string) []string {
	tb.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		tb.Fatalf("read dir %s: %v", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}
