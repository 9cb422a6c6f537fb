// ledgerctl is the operator CLI: it runs the admin operations directly against the ledger database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var actor string
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the custodial ledger: accounts, transfers, settlement policies and audit",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "ledgerctl", "Actor recorded in the audit log")

	rootCmd.AddCommand(accountCmd(&actor))
	rootCmd.AddCommand(transferCmd(&actor))
	rootCmd.AddCommand(policyCmd(&actor))
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		stop()
		os.Exit(1)
	}
}
