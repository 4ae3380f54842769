package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "custodyd",
		Short:         "custodyd - payment custody engine for session reimbursements",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(receiptsCmd())
	rootCmd.AddCommand(eventsCmd())
	return rootCmd
}
