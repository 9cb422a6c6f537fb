package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/ledger/domain"
	"custodial-ledger/backend/internal/money"
)

func accountCmd(actor *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Provision and administer ledger accounts",
	}
	cmd.AddCommand(accountProvisionCmd(actor))
	cmd.AddCommand(accountGetCmd())
	cmd.AddCommand(accountDepositCmd(actor))
	cmd.AddCommand(accountLockCmd(actor))
	cmd.AddCommand(accountTieredCmd(actor))
	cmd.AddCommand(accountResetChallengesCmd(actor))
	return cmd
}

func accountProvisionCmd(actor *string) *cobra.Command {
	var (
		destination string
		tiered      bool
	)
	cmd := &cobra.Command{
		Use:   "provision [principal]",
		Short: "Create the ledger account of a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			a, err := e.accounts.Provision(cmd.Context(), *actor, ledger.ProvisionInput{
				PrincipalID:   args[0],
				Destination:   destination,
				TieredEnabled: tiered,
			})
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
	cmd.Flags().StringVar(&destination, "destination", "", "Phone number or email codes are delivered to")
	cmd.Flags().BoolVar(&tiered, "tiered", false, "Require the tiered challenge for transfers")
	return cmd
}

func accountGetCmd() *cobra.Command {
	var byPrincipal bool
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show an account by id (or principal with --principal)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			a, err := lookupAccount(cmd.Context(), e, args[0], byPrincipal)
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
	cmd.Flags().BoolVar(&byPrincipal, "principal", false, "Treat the argument as a principal id")
	return cmd
}

func accountDepositCmd(actor *string) *cobra.Command {
	var in struct {
		bank, method, reference, note string
	}
	cmd := &cobra.Command{
		Use:   "deposit [id] [amount]",
		Short: "Credit an account with an external deposit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(args[1])
			if err != nil {
				return err
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			a, d, err := e.accounts.Deposit(cmd.Context(), *actor, args[0], ledger.DepositInput{
				Amount:    amount,
				BankName:  in.bank,
				Method:    in.method,
				Reference: in.reference,
				Note:      in.note,
			})
			if err != nil {
				return err
			}
			fmt.Printf("deposit %s: %s\n", d.ID, money.Format(d.Amount))
			printAccount(a)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.bank, "bank", "", "Originating bank name")
	cmd.Flags().StringVar(&in.method, "method", "wire", "Deposit method")
	cmd.Flags().StringVar(&in.reference, "reference", "", "External reference")
	cmd.Flags().StringVar(&in.note, "note", "", "Operator note")
	return cmd
}

func accountLockCmd(actor *string) *cobra.Command {
	var locked, transferLocked bool
	cmd := &cobra.Command{
		Use:   "lock [id]",
		Short: "Set the lock flags of an account (omitted flags clear the lock)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			a, err := e.accounts.SetLocks(cmd.Context(), *actor, args[0], locked, transferLocked)
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
	cmd.Flags().BoolVar(&locked, "locked", false, "Block every engine operation")
	cmd.Flags().BoolVar(&transferLocked, "transfers", false, "Block transfers only")
	return cmd
}

func accountTieredCmd(actor *string) *cobra.Command {
	return &cobra.Command{
		Use:       "tiered [id] [on|off]",
		Short:     "Switch an account between the tiered challenge and single-code mode",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var tiered bool
			switch args[1] {
			case "on":
				tiered = true
			case "off":
			default:
				return fmt.Errorf("mode must be on or off, got %q", args[1])
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			p, err := e.accounts.SetTieredMode(cmd.Context(), *actor, args[0], tiered)
			if err != nil {
				return err
			}
			fmt.Printf("account %s tiered=%t\n", p.AccountID, p.TieredEnabled)
			return nil
		},
	}
}

func accountResetChallengesCmd(actor *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-challenges [id]",
		Short: "Clear every device's challenge progress for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.accounts.ResetChallenges(cmd.Context(), *actor, args[0]); err != nil {
				return err
			}
			fmt.Printf("account %s challenges reset\n", args[0])
			return nil
		},
	}
}

func lookupAccount(ctx context.Context, e *env, key string, byPrincipal bool) (*domain.Account, error) {
	if byPrincipal {
		return e.accounts.GetByPrincipal(ctx, key)
	}
	return e.accounts.Get(ctx, key)
}

func printAccount(a *domain.Account) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", a.ID)
	fmt.Fprintf(w, "principal\t%s\n", a.PrincipalID)
	fmt.Fprintf(w, "number\t%s\n", a.AccountNumber)
	fmt.Fprintf(w, "balance\t%s\n", money.Format(a.Balance))
	fmt.Fprintf(w, "locked\t%t\n", a.Locked)
	fmt.Fprintf(w, "transfer_locked\t%t\n", a.TransferLocked)
	_ = w.Flush()
}
