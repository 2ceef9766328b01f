package engine

import (
	"fmt"
	"strings"
)

const (
	ProviderCPU      = "cpu"
	ProviderCUDA     = "cuda"
	ProviderTensorRT = "tensorrt"
)

// Precision modes accepted for the device context.
const (
	PrecisionForceFP32       = "force_fp32"
	PrecisionAllowFP32ToFP16 = "allow_fp32_to_fp16"
	PrecisionForceFP16       = "force_fp16"
	PrecisionKeepOriginDType = "must_keep_origin_dtype"
	PrecisionAllowMixed      = "allow_mix_precision"
)

const (
	ImplModeHighPrecision   = "high_precision"
	ImplModeHighPerformance = "high_performance"
)

// DeviceConfig describes the device a model is bound to.
type DeviceConfig struct {
	Provider         string
	ID               int
	PrecisionMode    string
	OpSelectImplMode string
	Threads          int
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Provider:         ProviderCPU,
		ID:               0,
		PrecisionMode:    PrecisionAllowFP32ToFP16,
		OpSelectImplMode: ImplModeHighPrecision,
	}
}

// Normalize fills unset fields with defaults and validates the rest.
func (d DeviceConfig) Normalize() (DeviceConfig, error) {
	def := DefaultDeviceConfig()

	d.Provider = strings.ToLower(strings.TrimSpace(d.Provider))
	if d.Provider == "" {
		d.Provider = def.Provider
	}
	switch d.Provider {
	case ProviderCPU, ProviderCUDA, ProviderTensorRT:
	default:
		return DeviceConfig{}, fmt.Errorf("invalid provider %q (expected %s|%s|%s)", d.Provider, ProviderCPU, ProviderCUDA, ProviderTensorRT)
	}

	if d.ID < 0 {
		return DeviceConfig{}, fmt.Errorf("device id must be >= 0, got %d", d.ID)
	}

	d.PrecisionMode = strings.ToLower(strings.TrimSpace(d.PrecisionMode))
	if d.PrecisionMode == "" {
		d.PrecisionMode = def.PrecisionMode
	}
	switch d.PrecisionMode {
	case PrecisionForceFP32, PrecisionAllowFP32ToFP16, PrecisionForceFP16, PrecisionKeepOriginDType, PrecisionAllowMixed:
	default:
		return DeviceConfig{}, fmt.Errorf("invalid precision mode %q", d.PrecisionMode)
	}

	d.OpSelectImplMode = strings.ToLower(strings.TrimSpace(d.OpSelectImplMode))
	if d.OpSelectImplMode == "" {
		d.OpSelectImplMode = def.OpSelectImplMode
	}
	if d.OpSelectImplMode != ImplModeHighPrecision && d.OpSelectImplMode != ImplModeHighPerformance {
		return DeviceConfig{}, fmt.Errorf("invalid op select impl mode %q", d.OpSelectImplMode)
	}

	if d.Threads < 0 {
		return DeviceConfig{}, fmt.Errorf("threads must be >= 0, got %d", d.Threads)
	}

	return d, nil
}

// AllowsFP16 reports whether the precision mode lets kernels run in half precision.
func (d DeviceConfig) AllowsFP16() bool {
	switch d.PrecisionMode {
	case PrecisionAllowFP32ToFP16, PrecisionForceFP16, PrecisionAllowMixed:
		return true
	default:
		return false
	}
}
