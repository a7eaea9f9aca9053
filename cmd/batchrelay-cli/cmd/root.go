// =============================================================================
// ROOT COMMAND - CLI ENTRY POINT AND GLOBAL FLAGS
// =============================================================================
//
// GLOBAL FLAGS:
//   --server, -s    Server URL (default: http://localhost:8080)
//   --context, -c   Config context to use
//   --api-key       API key for /log
//   --output, -o    Output format: table, json, yaml (default: table)
//   --timeout       Request timeout (default: 30s)
//   --config        CLI config file (default: ~/.batchrelay/config.yaml)
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"batchrelay/internal/cli"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	serverFlag     string
	contextFlag    string
	apiKeyFlag     string
	outputFlag     string
	timeoutFlag    time.Duration
	configPathFlag string

	// Shared instances, set by initializeClient
	resolved  cli.Resolved
	client    *cli.Client
	formatter *cli.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "batchrelay-cli",
	Short: "Command-line client for batchrelay",
	Long: `batchrelay-cli submits records to a batchrelay service and inspects it.

Connection settings resolve as flag > BATCHRELAY_* env var > context > default.

Use "batchrelay-cli [command] --help" for more information about a command.`,
	PersistentPreRunE: initializeClient,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		cli.PrintError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "",
		"Server URL (env: BATCHRELAY_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&contextFlag, "context", "c", "",
		"Config context to use (env: BATCHRELAY_CONTEXT)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "",
		"API key (env: BATCHRELAY_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
		"Output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0,
		"Request timeout (env: BATCHRELAY_TIMEOUT, default 30s)")
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", cli.DefaultConfigPath(),
		"CLI config file")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// =============================================================================
// CLIENT INITIALIZATION
// =============================================================================

// initializeClient resolves connection settings and builds the client and
// formatter before each command.
func initializeClient(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = cli.NewFormatter(format)
	formatter.SetWriter(cmd.OutOrStdout())

	// config subcommands manage the file themselves
	if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}

	cfg, err := cli.LoadConfigFromPath(configPathFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if contextFlag != "" {
		if _, err := cfg.Context(contextFlag); err != nil {
			return err
		}
	}

	resolved = cli.Resolve(cli.Flags{
		Context: contextFlag,
		Server:  serverFlag,
		APIKey:  apiKeyFlag,
		Timeout: timeoutFlag,
	}, cfg)
	client = cli.NewClient(resolved.ClientConfig())
	return nil
}

// getContext returns a context bounded by the resolved timeout.
func getContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), resolved.Timeout)
}
