package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "coderoom",
		Short:         "Real-time collaborative code rooms",
		Long:          "coderoom serves shared code rooms: authenticated clients join a room over WebSocket, edits fan out live and are persisted after a quiet period.",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}

	serveCmd := newServeCmd()
	rootCmd.AddCommand(serveCmd, newMigrateCmd())

	// `coderoom` with no subcommand runs the server
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}
