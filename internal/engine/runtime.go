package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// DefaultAPIVersion is the ONNX Runtime C API version requested by the purego binding.
const DefaultAPIVersion uint32 = 23

// RuntimeConfig locates the ONNX Runtime shared library.
type RuntimeConfig struct {
	LibraryPath string
	Version     string
	APIVersion  uint32
}

type RuntimeInfo struct {
	LibraryPath string
	Version     string
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var libraryCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"C:/onnxruntime/lib/onnxruntime.dll",
}

func DetectRuntime(cfg RuntimeConfig) (RuntimeInfo, error) {
	path := cfg.LibraryPath
	if path == "" {
		path = os.Getenv("NNINFER_ORT_LIB")
	}

	if path == "" {
		path = os.Getenv("ORT_LIBRARY_PATH")
	}

	if path == "" {
		for _, c := range libraryCandidates {
			_, err := os.Stat(c)
			if err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown"}, errors.New("unable to detect ONNX Runtime library path")
	}

	_, err := os.Stat(path)
	if err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown"}, fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}

	if version == "" {
		version = inferVersionFromPath(path)
	}

	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version}, nil
}

func inferVersionFromPath(path string) string {
	name := filepath.Base(path)
	if m := versionPattern.FindStringSubmatch(name); len(m) == 2 {
		return m[1]
	}

	return ""
}
