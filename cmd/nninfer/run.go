package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/nninfer/internal/bench"
	"github.com/example/nninfer/internal/bench/stageprof"
	"github.com/example/nninfer/internal/config"
	"github.com/example/nninfer/internal/engine"
	"github.com/example/nninfer/internal/infer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// loadModel is swapped out in tests.
var loadModel = engine.Load

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every paired sample through the model",
		Args:  cobra.NoArgs,
		RunE:  runE,
	}
}

func runE(cmd *cobra.Command, _ []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	return runInference(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// runInference executes one full batch and records it in the history
// database when one is configured, whether the batch succeeded or not.
func runInference(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	format, err := config.NormalizeFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	res, runErr := executeBatch(ctx, cfg, format, stdout, stderr)

	if histErr := recordHistory(ctx, cfg, startedAt, res, runErr); histErr != nil {
		slog.Warn("history not recorded", "error", histErr)
	}

	return runErr
}

func executeBatch(ctx context.Context, cfg config.Config, format string, stdout, stderr io.Writer) (infer.Result, error) {
	model, err := loadModel(cfg.EngineOptions())
	if err != nil {
		return infer.Result{}, err
	}
	defer func() {
		if closeErr := model.Close(); closeErr != nil {
			slog.Warn("release model", "error", closeErr)
		}
	}()

	dirs, err := inputDirs(cfg.Input, len(model.Inputs()))
	if err != nil {
		return infer.Result{}, err
	}
	for i, d := range dirs {
		slog.Info("input directory", "slot", i, "path", d)
	}

	samples, err := infer.Pair(dirs, infer.PairOptions{StrictNames: cfg.Input.StrictNames})
	if err != nil {
		return infer.Result{}, err
	}

	runner := infer.Runner{
		Model:  model,
		Writer: infer.ResultWriter{Dir: cfg.Output.ResultDir, Split: cfg.Output.SplitOutputs},
	}

	if cfg.Output.Progress {
		runner.Progress = progressbar.NewOptions(len(samples),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("predict"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	if cfg.Output.CPUProfile != "" {
		stop, err := stageprof.StartCPUProfile(cfg.Output.CPUProfile)
		if err != nil {
			return infer.Result{}, err
		}
		defer func() {
			if stopErr := stop(); stopErr != nil {
				slog.Warn("cpu profile", "error", stopErr)
			}
		}()
		runner.Stages = &stageprof.Profiler{}
	}

	res, err := runner.Run(ctx, samples)
	if err != nil {
		return res, err
	}

	if err := bench.WriteReport(cfg.Output.ReportPath, res.Records); err != nil {
		return res, err
	}

	stats := bench.ComputeStats(bench.Durations(res.Records))
	switch format {
	case config.FormatJSON:
		bench.FormatJSON(res.Records, stats, stdout)
	case config.FormatTable:
		bench.FormatTable(res.Records, stats, stdout)
		fallthrough
	default:
		line, err := bench.ReportLine(res.Records)
		if err != nil {
			return res, err
		}
		_, _ = fmt.Fprintln(stdout, line)
	}

	if runner.Stages != nil {
		for _, s := range runner.Stages.Summaries() {
			slog.Info("stage time",
				"stage", s.Stage,
				"count", s.Count,
				"total_ms", bench.Millis(s.Total),
				"share_pct", 100*s.Share,
			)
		}
	}

	return res, nil
}

// inputDirs returns one directory per model input slot. Slot 1 may be set
// explicitly; other slots are derived from input0_path.
func inputDirs(in config.InputConfig, slots int) ([]string, error) {
	if slots < 1 {
		return nil, engine.ErrEmptyInputSignature
	}

	dirs := make([]string, 0, slots)
	dirs = append(dirs, in.Input0Path)
	for slot := 1; slot < slots; slot++ {
		if slot == 1 && in.Input1Path != "" {
			dirs = append(dirs, in.Input1Path)
			continue
		}

		d, err := infer.DeriveSlotDir(in.Input0Path, slot)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}

	return dirs, nil
}
