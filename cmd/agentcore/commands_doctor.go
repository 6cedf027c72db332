package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentcore/internal/config"
)

// discardLogger is used by read-only CLI subcommands (schedule list/run,
// jobs list) that need a *slog.Logger to satisfy buildComponents but have
// no business printing component wiring noise to the terminal.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and verify every dependency wires up",
		Long: `doctor loads the configuration file, validates it, and then builds the
full component graph (store, LLM providers, tool registry, capability
router, context manager, agent runtime, job queue, scheduler) the same way
"serve" does — surfacing any wiring failure (bad credentials, unreachable
store path, a tier referencing an unconfigured provider) without actually
starting the queue or listening on a port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(out, "config: FAIL (%v)\n", err)
				return err
			}
			fmt.Fprintln(out, "config: OK")

			comps, err := buildComponents(cfg, discardLogger())
			if err != nil {
				fmt.Fprintf(out, "components: FAIL (%v)\n", err)
				return err
			}
			defer comps.store.Close()
			fmt.Fprintf(out, "store: OK (%s)\n", cfg.Store.Backend)

			for tier := range cfg.LLM.Tiers {
				fmt.Fprintf(out, "llm tier %q: OK\n", tier)
			}
			fmt.Fprintf(out, "tool registry: OK (%d tools)\n", len(comps.toolReg.Names()))
			fmt.Fprintln(out, "all checks passed")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
