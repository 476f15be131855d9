package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"subforge/internal/events"
	"subforge/internal/progress"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [JOB_ID]",
		Short: "Print job progress published over NATS",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Events.Enabled {
				return errors.New("events are disabled; set events.enabled in the configuration")
			}
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}

			watchCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			watchCtx, cancel := context.WithCancel(watchCtx)
			defer cancel()

			out := cmd.OutOrStdout()
			return events.Watch(watchCtx, cfg.Events.NATSURL, cfg.Events.Subject, jobID, func(u progress.Update) {
				fmt.Fprintln(out, formatUpdate(u))
				// a single job ends with its final update
				if jobID != "" && u.Final() {
					cancel()
				}
			})
		},
	}
}

func formatUpdate(u progress.Update) string {
	line := fmt.Sprintf("%s  %s  %3d%%", u.Time.Local().Format("15:04:05"), shortID(u.JobID), int(u.Fraction*100))
	switch {
	case u.Status == "failed":
		return line + "  failed: " + u.Message
	case u.Final():
		return line + "  " + u.Status
	case u.Label != "":
		return line + "  " + u.Label
	}
	return line + "  " + u.Status
}
