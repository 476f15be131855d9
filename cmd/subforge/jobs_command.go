package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"subforge/internal/models"
	"subforge/internal/storage"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.Paths.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			repo := storage.NewJobRepository(db)
			var list []models.Job
			if status != "" {
				list, err = repo.ListByStatus(cmd.Context(), status, limit)
			} else {
				list, err = repo.ListRecent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs with this status (queued, running, completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

func renderJobs(list []models.Job) string {
	headers := []string{"ID", "Kind", "Status", "Progress", "Created", "Duration"}
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		status := j.Status
		if j.ErrorKind != "" {
			status += " (" + j.ErrorKind + ")"
		}
		rows = append(rows, []string{
			shortID(j.ID),
			strings.TrimPrefix(j.Kind, "transcribe:"),
			status,
			fmt.Sprintf("%d%%", int(j.Progress*100)),
			j.CreatedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(j.Duration()),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
