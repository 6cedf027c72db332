package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentcore/internal/config"
)

func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and manually trigger CRON schedules",
	}
	cmd.AddCommand(buildScheduleListCmd(), buildScheduleRunCmd())
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enabled schedules and their next fire time",
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

			schedules, err := comps.store.ListEnabledSchedules(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(schedules) == 0 {
				fmt.Fprintln(out, "No enabled schedules.")
				return nil
			}
			for _, sc := range schedules {
				next := "unscheduled"
				if sc.NextFire != nil {
					next = sc.NextFire.Format("2006-01-02T15:04:05Z07:00")
				}
				fmt.Fprintf(out, "%s  %-20s  next=%s  runs=%d\n", sc.ID, sc.Name, next, sc.RunCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildScheduleRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Fire a schedule immediately, independent of its cadence",
		Args:  cobra.ExactArgs(1),
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

			if err := comps.scheduler.RunNow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fired schedule %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
