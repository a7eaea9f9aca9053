package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"batchrelay/internal/api"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "batchrelay %s\n", api.Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", api.GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", api.BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
