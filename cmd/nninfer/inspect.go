package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/example/nninfer/internal/engine"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Load the model and print its input and output signature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			model, err := loadModel(cfg.EngineOptions())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := model.Close(); closeErr != nil {
					slog.Warn("release model", "error", closeErr)
				}
			}()

			printSignature(cmd.OutOrStdout(), cfg.Model.Path, model)
			return nil
		},
	}
}

func printSignature(w io.Writer, path string, m engine.Model) {
	fmt.Fprintf(w, "model: %s\n", path)
	fmt.Fprintln(w, "inputs:")
	for i, in := range m.Inputs() {
		fmt.Fprintf(w, "  %d  %s\n", i, in)
	}
	fmt.Fprintln(w, "outputs:")
	for i, out := range m.Outputs() {
		fmt.Fprintf(w, "  %d  %s\n", i, out)
	}
}
