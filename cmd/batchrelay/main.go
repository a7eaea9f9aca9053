// =============================================================================
// BATCHRELAY - SERVICE ENTRY POINT
// =============================================================================
//
// USAGE:
//   batchrelay serve [--config config.yaml]
//   batchrelay validate [--config config.yaml] [--print]
//   batchrelay env
//   batchrelay version
//
// CONFIGURATION:
//   config.yaml (optional), .env (optional), BATCHRELAY_* env vars
//
// =============================================================================

package main

import (
	"fmt"
	"os"

	"batchrelay/cmd/batchrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
