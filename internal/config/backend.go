package config

import (
	"fmt"
	"strings"

	"github.com/example/nninfer/internal/engine"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatNone  = "none"
)

func NormalizeFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	if format == "" {
		format = FormatTable
	}
	switch format {
	case FormatTable, FormatJSON, FormatNone:
		return format, nil
	default:
		return "", fmt.Errorf("invalid format %q (expected %s|%s|%s)", raw, FormatTable, FormatJSON, FormatNone)
	}
}

// EngineOptions translates the model and runtime sections into loader
// options.
func (c Config) EngineOptions() engine.LoadOptions {
	return engine.LoadOptions{
		Path:          c.Model.Path,
		Backend:       c.Model.Backend,
		SignaturePath: c.Model.SignaturePath,
		Device: engine.DeviceConfig{
			Provider:         c.Model.Provider,
			ID:               c.Model.DeviceID,
			PrecisionMode:    c.Model.PrecisionMode,
			OpSelectImplMode: c.Model.ImplMode,
			Threads:          c.Runtime.Threads,
		},
		Runtime: engine.RuntimeConfig{
			LibraryPath: c.Runtime.ORTLibraryPath,
			Version:     c.Runtime.ORTVersion,
		},
	}
}
