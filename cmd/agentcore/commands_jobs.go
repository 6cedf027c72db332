package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/pkg/models"
)

var jobListStatuses = []models.JobStatus{
	models.JobPending,
	models.JobRunning,
	models.JobWaitingForInput,
	models.JobOAuthPending,
}

func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect non-terminal jobs",
	}
	cmd.AddCommand(buildJobsListCmd())
	return cmd
}

func buildJobsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs that are pending, running, or waiting for input",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			comps, err := buildComponents(cfg, discardLogger())
			if err != nil {
				return fmt.Errorf("build components: %w", err)
			}
			defer comps.store.Close()

			out := cmd.OutOrStdout()
			total := 0
			for _, status := range jobListStatuses {
				jobs, err := comps.store.JobsInStatus(cmd.Context(), status)
				if err != nil {
					return fmt.Errorf("list %s jobs: %w", status, err)
				}
				for _, job := range jobs {
					fmt.Fprintf(out, "%s  %-18s  conv=%s  updated=%s\n",
						job.ID, job.Status, job.ConversationID, job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
					total++
				}
			}
			if total == 0 {
				fmt.Fprintln(out, "No non-terminal jobs.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
