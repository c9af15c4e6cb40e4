package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "smartslot-server",
		Short:         "Patient admission queue and triage server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
