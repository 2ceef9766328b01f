package main

import (
	"fmt"
	"log/slog"

	"github.com/example/nninfer/internal/config"
	"github.com/example/nninfer/internal/doctor"
	"github.com/example/nninfer/internal/engine"
	"github.com/example/nninfer/internal/hostinfo"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var load bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, model and input checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			opts := cfg.EngineOptions()

			result := doctor.Run(doctorConfig(cfg), out)

			if load {
				model, loadErr := loadModel(opts)
				if loadErr != nil {
					result.AddFailure(fmt.Sprintf("model load: %v", loadErr))
					_, _ = fmt.Fprintf(out, "%s model load: %v\n", doctor.FailMark, loadErr)
				} else {
					_, _ = fmt.Fprintf(out, "%s model load: %d inputs, %d outputs\n",
						doctor.PassMark, len(model.Inputs()), len(model.Outputs()))
					if smokeErr := engine.Smoke(cmd.Context(), model); smokeErr != nil {
						result.AddFailure(fmt.Sprintf("model smoke run: %v", smokeErr))
						_, _ = fmt.Fprintf(out, "%s model smoke run: %v\n", doctor.FailMark, smokeErr)
					} else {
						_, _ = fmt.Fprintf(out, "%s model smoke run: zero inputs predicted\n", doctor.PassMark)
					}
					if closeErr := model.Close(); closeErr != nil {
						slog.Warn("release model", "error", closeErr)
					}
				}
			}

			if result.Failed() {
				return fmt.Errorf("doctor: %d check(s) failed", len(result.Failures()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&load, "load", false, "Also build the model and run one prediction on zero-filled inputs")

	return cmd
}

func doctorConfig(cfg config.Config) doctor.Config {
	runtime := cfg.EngineOptions().Runtime

	dirs := []string{cfg.Input.Input0Path}
	if cfg.Input.Input1Path != "" {
		dirs = append(dirs, cfg.Input.Input1Path)
	} else if d, err := inputDirs(cfg.Input, 2); err == nil {
		dirs = d
	}

	return doctor.Config{
		DetectRuntime: func() (engine.RuntimeInfo, error) { return engine.DetectRuntime(runtime) },
		MinORTMinor:   int(engine.DefaultAPIVersion),
		ModelPath:     cfg.Model.Path,
		InputDirs:     dirs,
		StrictNames:   cfg.Input.StrictNames,
		CPU:           hostinfo.DetectCPU,
		Provider:      cfg.Model.Provider,
		DeviceID:      cfg.Model.DeviceID,
		CUDADevices:   hostinfo.CUDADevices,
	}
}
