package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"subforge/internal/asr"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var backendFlag string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models of the configured ASR backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := cfg.ASR.Backend
			if backendFlag != "" {
				name = backendFlag
			}
			backend, err := asr.NewBackend(name, cfg.Paths.Models, cfg.ASR.Threads)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", backend.Name())
			fmt.Fprintf(out, "Precisions: %s (default %s)\n", strings.Join(backend.Precisions(), ", "), backend.DefaultPrecision())
			fmt.Fprintln(out, renderModels(backend.Models(), cfg.ASR.Model))
			return nil
		},
	}
	cmd.Flags().StringVar(&backendFlag, "backend", "", "ASR backend (sherpa, whispercpp)")
	return cmd
}

func renderModels(ids []string, defaultModel string) string {
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		def := ""
		if id == defaultModel {
			def = "*"
		}
		rows = append(rows, []string{id, yesNo(asr.IsTranslatable(id)), def})
	}
	return renderTable([]string{"Model", "Translate to English", "Default"}, rows, nil)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
