package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"custodial-ledger/backend/internal/money"
	"custodial-ledger/backend/internal/transfer/domain"
)

func transferCmd(actor *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Inspect and settle transfers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get [id]",
		Short: "Show a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			t, err := e.transfers.Get(cmd.Context(), *actor, true, args[0])
			if err != nil {
				return err
			}
			printTransfer(t)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "approve [id]",
		Short: "Settle a transfer awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			t, applied, err := e.transfers.Approve(cmd.Context(), *actor, args[0])
			if err != nil {
				return err
			}
			reportDecision("approve", t, applied)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decline [id]",
		Short: "Fail an open transfer and refund the sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			t, applied, err := e.transfers.Decline(cmd.Context(), *actor, args[0])
			if err != nil {
				return err
			}
			reportDecision("decline", t, applied)
			return nil
		},
	})
	return cmd
}

func reportDecision(verb string, t *domain.Transfer, applied bool) {
	if !applied {
		fmt.Printf("%s: transfer %s is %s; nothing changed\n", verb, t.ID, t.Status)
		return
	}
	fmt.Printf("%s: transfer %s is now %s\n", verb, t.ID, t.Status)
}

func printTransfer(t *domain.Transfer) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", t.ID)
	fmt.Fprintf(w, "reference\t%s\n", t.Reference)
	fmt.Fprintf(w, "sender\t%s\n", t.SenderAccountID)
	fmt.Fprintf(w, "recipient\t%s (%s %s)\n", t.Recipient.Name, t.Recipient.Bank, t.Recipient.AccountNumber)
	fmt.Fprintf(w, "internal\t%t\n", t.Recipient.Internal())
	fmt.Fprintf(w, "amount\t%s\n", money.Format(t.Amount))
	fmt.Fprintf(w, "flow\t%s\n", t.Flow)
	fmt.Fprintf(w, "status\t%s\n", t.Status)
	fmt.Fprintf(w, "verified\t%t\n", t.IsVerified)
	fmt.Fprintf(w, "created\t%s\n", t.CreatedAt.Format(time.RFC3339))
	_ = w.Flush()
}
