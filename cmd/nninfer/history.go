package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/example/nninfer/internal/bench"
	"github.com/example/nninfer/internal/config"
	"github.com/example/nninfer/internal/engine"
	"github.com/example/nninfer/internal/history"
	"github.com/example/nninfer/internal/hostinfo"
	"github.com/example/nninfer/internal/infer"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errHistoryDisabled = errors.New("run history disabled: set --history-db")

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show per-sample latency of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if cfg.History.DBPath == "" {
				return errHistoryDisabled
			}

			store, err := history.Open(cfg.History.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid run id %q: %w", args[0], err)
				}
				run, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			}

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list (0 = all)")

	return cmd
}

// recordHistory stores one run row. It is a no-op when no database is
// configured.
func recordHistory(ctx context.Context, cfg config.Config, startedAt time.Time, res infer.Result, runErr error) error {
	if cfg.History.DBPath == "" {
		return nil
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	backend, err := engine.NormalizeBackend(cfg.Model.Backend)
	if err != nil {
		backend = cfg.Model.Backend
	}

	run := &history.Run{
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
		ModelPath:     cfg.Model.Path,
		Backend:       backend,
		Provider:      cfg.Model.Provider,
		DeviceID:      cfg.Model.DeviceID,
		PrecisionMode: cfg.Model.PrecisionMode,
		HostCPU:       hostinfo.DetectCPU().String(),
		Samples:       len(res.Records),
		Status:        history.RunCompleted,
	}
	if mean, err := bench.MeanMillis(res.Records); err == nil {
		run.MeanMS = mean
	}
	if runErr != nil {
		run.Status = history.RunFailed
		run.Error = runErr.Error()
	}
	for i, r := range res.Records {
		run.Latencies = append(run.Latencies, history.SampleLatency{
			Position:   i,
			Input:      r.Input,
			DurationMS: bench.Millis(r.Duration()),
		})
	}

	return store.Record(ctx, run)
}

func printRuns(w io.Writer, runs []history.Run) {
	fmt.Fprintf(w, "%-36s  %-19s  %-9s  %7s  %10s  %s\n", "ID", "Started", "Status", "Samples", "Mean MS", "Model")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-19s  %-9s  %7d  %10.3f  %s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.Samples,
			r.MeanMS,
			filepath.Base(r.ModelPath),
		)
	}
}

func printRun(w io.Writer, r history.Run) {
	fmt.Fprintf(w, "id:        %s\n", r.ID)
	fmt.Fprintf(w, "model:     %s\n", r.ModelPath)
	fmt.Fprintf(w, "backend:   %s/%s device %d (%s)\n", r.Backend, r.Provider, r.DeviceID, r.PrecisionMode)
	fmt.Fprintf(w, "host:      %s\n", r.HostCPU)
	fmt.Fprintf(w, "started:   %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "status:    %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", r.Error)
	}
	fmt.Fprintf(w, "samples:   %d, mean %.3f ms\n", r.Samples, r.MeanMS)
	for _, l := range r.Latencies {
		fmt.Fprintf(w, "  %-6d  %-40s  %10.3f\n", l.Position+1, filepath.Base(l.Input), l.DurationMS)
	}
}
