// =============================================================================
// BATCHRELAY CLI - MAIN ENTRY POINT
// =============================================================================
//
// USAGE:
//   batchrelay-cli [command] [flags]
//
// EXAMPLES:
//   batchrelay-cli send --user-id 7 --total 12.5 --title checkout --completed
//   batchrelay-cli send -f records.jsonl       # one result per line
//   batchrelay-cli stats -o json
//   batchrelay-cli config set-context prod --server https://relay.example.com
//
// CONFIGURATION:
//   Config file: ~/.batchrelay/config.yaml
//   Env vars: BATCHRELAY_SERVER, BATCHRELAY_CONTEXT, BATCHRELAY_API_KEY, BATCHRELAY_TIMEOUT
//
// =============================================================================

package main

import (
	"os"

	"batchrelay/cmd/batchrelay-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
