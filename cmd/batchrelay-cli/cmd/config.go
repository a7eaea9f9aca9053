// =============================================================================
// CONFIG COMMANDS - MANAGE CLI CONTEXTS
// =============================================================================
//
// COMMANDS:
//   batchrelay-cli config view                 Show contexts (keys redacted)
//   batchrelay-cli config use-context <name>   Switch the current context
//   batchrelay-cli config set-context <name>   Create or update a context
//
// =============================================================================

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"batchrelay/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage batchrelay-cli contexts, stored in ~/.batchrelay/config.yaml.

Examples:
  batchrelay-cli config view
  batchrelay-cli config set-context prod --server https://relay.example.com --api-key s3cret
  batchrelay-cli config use-context prod`,
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configSetContextCmd)

	configSetContextCmd.Flags().StringVar(&setContextServer, "server", "", "Server URL")
	configSetContextCmd.Flags().StringVar(&setContextAPIKey, "context-api-key", "", "API key stored in the context")
	configSetContextCmd.Flags().DurationVar(&setContextTimeout, "context-timeout", 0, "Request timeout stored in the context")
	configSetContextCmd.Flags().BoolVar(&setContextUse, "use", false, "Also make it the current context")
}

// =============================================================================
// CONFIG VIEW
// =============================================================================

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show configured contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfigFromPath(configPathFlag)
		if err != nil {
			return err
		}
		if format, _ := cli.ParseOutputFormat(outputFlag); format == cli.OutputTable {
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n\n", configPathFlag)
		}
		return formatter.FormatContexts(cfg.Redacted())
	},
}

// =============================================================================
// CONFIG USE-CONTEXT
// =============================================================================

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfigFromPath(configPathFlag)
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		if err := cfg.SaveToPath(configPathFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q\n", args[0])
		return nil
	},
}

// =============================================================================
// CONFIG SET-CONTEXT
// =============================================================================

var (
	setContextServer  string
	setContextAPIKey  string
	setContextTimeout time.Duration
	setContextUse     bool
)

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Long: `Create a context, or update the given fields of an existing one.

Examples:
  batchrelay-cli config set-context staging --server http://staging:8080
  batchrelay-cli config set-context staging --context-timeout 5s --use`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetContext,
}

func runConfigSetContext(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := cli.LoadConfigFromPath(configPathFlag)
	if err != nil {
		return err
	}

	ctx, err := cfg.Context(name)
	if err != nil {
		if setContextServer == "" {
			return fmt.Errorf("--server is required for new context %q", name)
		}
		ctx = &cli.ContextConfig{}
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		ctx.Server = setContextServer
	}
	if flags.Changed("context-api-key") {
		ctx.APIKey = setContextAPIKey
	}
	if flags.Changed("context-timeout") {
		ctx.Timeout = int(setContextTimeout.Round(time.Second) / time.Second)
	}
	cfg.SetContext(name, ctx)

	if setContextUse {
		if err := cfg.UseContext(name); err != nil {
			return err
		}
	}
	if err := cfg.SaveToPath(configPathFlag); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Context %q saved\n", name)
	return nil
}
