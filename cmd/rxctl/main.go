// Package main provides rxctl, the operator CLI for quoting, dispensing and
// preparing stores and topics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rxctl",
		Short:        "Prescription charge and inventory tool",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "log to stderr")

	root.AddCommand(quoteCmd())
	root.AddCommand(dispenseCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(topicsCmd())
	return root
}
