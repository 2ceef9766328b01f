package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Model    ModelConfig   `mapstructure:"model"`
	Input    InputConfig   `mapstructure:"input"`
	Output   OutputConfig  `mapstructure:"output"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	History  HistoryConfig `mapstructure:"history"`
	LogLevel string        `mapstructure:"log_level"`
}

type ModelConfig struct {
	Path          string `mapstructure:"path"`
	Backend       string `mapstructure:"backend"`
	SignaturePath string `mapstructure:"signature_path"`
	Provider      string `mapstructure:"provider"`
	DeviceID      int    `mapstructure:"device_id"`
	PrecisionMode string `mapstructure:"precision_mode"`
	ImplMode      string `mapstructure:"op_select_impl_mode"`
}

type InputConfig struct {
	Input0Path  string `mapstructure:"input0_path"`
	Input1Path  string `mapstructure:"input1_path"`
	StrictNames bool   `mapstructure:"strict_names"`
}

type OutputConfig struct {
	ResultDir    string `mapstructure:"result_dir"`
	ReportPath   string `mapstructure:"report_path"`
	SplitOutputs bool   `mapstructure:"split_outputs"`
	Format       string `mapstructure:"format"`
	Progress     bool   `mapstructure:"progress"`
	CPUProfile   string `mapstructure:"cpuprofile"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Path:          "",
			Backend:       "purego",
			Provider:      "cpu",
			DeviceID:      0,
			PrecisionMode: "allow_fp32_to_fp16",
			ImplMode:      "high_precision",
		},
		Input: InputConfig{
			Input0Path: ".",
		},
		Output: OutputConfig{
			ResultDir:  "./result_Files",
			ReportPath: "./time_Result/test_perform_static.txt",
			Format:     "table",
		},
		Runtime: RuntimeConfig{
			Threads: 0,
		},
		LogLevel: "info",
	}
}

// flagKeys maps flag names to their nested config keys. The underscore
// names match the flags deployed harness scripts already pass.
var flagKeys = map[string]string{
	"mindir_path":         "model.path",
	"backend":             "model.backend",
	"signature":           "model.signature_path",
	"provider":            "model.provider",
	"device_id":           "model.device_id",
	"precision_mode":      "model.precision_mode",
	"op_select_impl_mode": "model.op_select_impl_mode",
	"input0_path":         "input.input0_path",
	"input1_path":         "input.input1_path",
	"strict_names":        "input.strict_names",
	"result_dir":          "output.result_dir",
	"report_path":         "output.report_path",
	"split_outputs":       "output.split_outputs",
	"format":              "output.format",
	"progress":            "output.progress",
	"cpuprofile":          "output.cpuprofile",
	"threads":             "runtime.threads",
	"ort-lib":             "runtime.ort_library_path",
	"ort-version":         "runtime.ort_version",
	"history-db":          "history.db_path",
	"log-level":           "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("mindir_path", defaults.Model.Path, "Path to the serialized model graph")
	fs.String("backend", defaults.Model.Backend, "Inference backend (purego|cgo)")
	fs.String("signature", defaults.Model.SignaturePath, "Signature manifest for the purego backend (default <model dir>/manifest.json)")
	fs.String("provider", defaults.Model.Provider, "Execution provider (cpu|cuda|tensorrt)")
	fs.Int("device_id", defaults.Model.DeviceID, "Accelerator device index")
	fs.String("precision_mode", defaults.Model.PrecisionMode, "Precision policy for the accelerator")
	fs.String("op_select_impl_mode", defaults.Model.ImplMode, "Kernel selection mode (high_precision|high_performance)")
	fs.String("input0_path", defaults.Input.Input0Path, "Directory of payload files for input slot 0")
	fs.String("input1_path", defaults.Input.Input1Path, "Directory for input slot 1 (derived from input0_path when empty)")
	fs.Bool("strict_names", defaults.Input.StrictNames, "Require identical file names across input directories")
	fs.String("result_dir", defaults.Output.ResultDir, "Directory for raw output tensors")
	fs.String("report_path", defaults.Output.ReportPath, "Timing report file")
	fs.Bool("split_outputs", defaults.Output.SplitOutputs, "Write one <stem>_<i>.bin file per output tensor")
	fs.String("format", defaults.Output.Format, "Latency summary on stdout (table|json|none)")
	fs.Bool("progress", defaults.Output.Progress, "Show a progress bar on stderr")
	fs.String("cpuprofile", defaults.Output.CPUProfile, "Write a CPU profile labelled by pipeline stage")
	fs.Int("threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count (0 = runtime default)")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("history-db", defaults.History.DBPath, "sqlite run history database (empty disables)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("NNINFER")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "NNINFER_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("nninfer")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("model.path", c.Model.Path)
	v.SetDefault("model.backend", c.Model.Backend)
	v.SetDefault("model.signature_path", c.Model.SignaturePath)
	v.SetDefault("model.provider", c.Model.Provider)
	v.SetDefault("model.device_id", c.Model.DeviceID)
	v.SetDefault("model.precision_mode", c.Model.PrecisionMode)
	v.SetDefault("model.op_select_impl_mode", c.Model.ImplMode)
	v.SetDefault("input.input0_path", c.Input.Input0Path)
	v.SetDefault("input.input1_path", c.Input.Input1Path)
	v.SetDefault("input.strict_names", c.Input.StrictNames)
	v.SetDefault("output.result_dir", c.Output.ResultDir)
	v.SetDefault("output.report_path", c.Output.ReportPath)
	v.SetDefault("output.split_outputs", c.Output.SplitOutputs)
	v.SetDefault("output.format", c.Output.Format)
	v.SetDefault("output.progress", c.Output.Progress)
	v.SetDefault("output.cpuprofile", c.Output.CPUProfile)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("history.db_path", c.History.DBPath)
	v.SetDefault("log_level", c.LogLevel)
}

// ParseLogLevel maps a config string to a slog level. Unknown values
// return an error alongside slog.LevelInfo.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}
