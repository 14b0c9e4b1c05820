package main

import (
	"context"
	"os"

	"marketplace-ledger-reconciler/cmd/reconciler/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Set version information
	cmd.SetVersionInfo(version, commit, date)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(cmd.NewCLIErrorHandler().HandleError(err))
	}
}
