package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"batchrelay/internal/api"
	"batchrelay/internal/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and server version",
	Long: `Show the CLI version and, when reachable, the server's.

Examples:
  batchrelay-cli version
  batchrelay-cli version -o json`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

type versionOutput struct {
	Client *cli.VersionInfo `json:"client" yaml:"client"`
	Server *cli.VersionInfo `json:"server,omitempty" yaml:"server,omitempty"`
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := versionOutput{Client: &cli.VersionInfo{
		Version:   api.Version,
		GitCommit: api.GitCommit,
		BuildTime: api.BuildTime,
	}}

	ctx, cancel := getContext(cmd)
	defer cancel()
	if info, err := client.Version(ctx); err == nil {
		out.Server = info
	}

	if format, _ := cli.ParseOutputFormat(outputFlag); format != cli.OutputTable {
		return formatter.Format(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Client:")
	if err := formatter.FormatVersion(out.Client); err != nil {
		return err
	}
	if out.Server == nil {
		fmt.Fprintf(w, "\nServer: unreachable (%s)\n", resolved.Server)
		return nil
	}
	fmt.Fprintln(w, "\nServer:")
	return formatter.FormatVersion(out.Server)
}
