package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"batchrelay/internal/config"
)

var validatePrint bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and check the configuration",
	Long: `Load the configuration exactly as serve would (file, .env, environment)
and report every problem at once. With --print the effective configuration is
written to stdout as YAML, API keys redacted.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVarP(&validatePrint, "print", "p", false,
		"Print the effective configuration as YAML")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !validatePrint {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(redacted(cfg)); err != nil {
		return err
	}
	return enc.Close()
}

// redacted returns a copy of cfg that is safe to print.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if len(cfg.APIKeys) > 0 {
		out.APIKeys = make([]string, len(cfg.APIKeys))
		for i := range out.APIKeys {
			out.APIKeys[i] = "<redacted>"
		}
	}
	return &out
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := config.Describe()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), desc)
		return err
	},
}
