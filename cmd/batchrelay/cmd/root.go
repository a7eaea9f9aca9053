// =============================================================================
// ROOT COMMAND - SERVICE BINARY
// =============================================================================
//
// GLOBAL FLAGS:
//   --config, -f    YAML config file (default: config.yaml, optional)
//
// SUBCOMMANDS:
//   serve       Run the ingest API and the batching pipeline
//   validate    Load and check the configuration
//   env         List supported environment variables
//   version     Show version information
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"batchrelay/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "batchrelay",
	Short: "Batching HTTP relay for log records",
	Long: `batchrelay accepts JSON log records over HTTP, buffers them in a bounded
queue and forwards them to a sink in batches, either when enough records have
accumulated or when the flush interval elapses.

Use "batchrelay [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", config.DefaultPath,
		"YAML config file; missing is fine, env vars still apply")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
