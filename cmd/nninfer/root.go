package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/example/nninfer/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
	cfgLoaded bool
)

var errConfigNotLoaded = errors.New("configuration not loaded")

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "nninfer",
		Short: "Batch inference harness for ONNX models",
		Long: `nninfer loads a model, pairs the payload files of its input directories
by sorted position, runs every sample through the model and writes raw output
tensors plus a one-line average latency report.

Invoked without a subcommand it behaves like "nninfer run".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			cfgLoaded = true
			setupLogger(loaded.LogLevel)
			return nil
		},
		RunE: runE,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if !cfgLoaded {
		return config.Config{}, errConfigNotLoaded
	}
	return activeCfg, nil
}
