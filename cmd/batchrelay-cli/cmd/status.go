package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check liveness and readiness",
	Long: `Probe /healthz and /readyz. Exits non-zero when the server is not ready.

Examples:
  batchrelay-cli health
  batchrelay-cli health -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext(cmd)
		defer cancel()

		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		if err := formatter.FormatHealth(health); err != nil {
			return err
		}
		if !health.Ready {
			return fmt.Errorf("%s is not ready", resolved.Server)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline counters",
	Long: `Show queue occupancy, record and batch counters, and the last delivery.

Examples:
  batchrelay-cli stats
  batchrelay-cli stats -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext(cmd)
		defer cancel()

		stats, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatStats(stats)
	},
}
