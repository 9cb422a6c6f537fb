package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"custodial-ledger/backend/internal/policy"
)

func policyCmd(actor *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage settlement policies (Rego, package ledger.settlement)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored settlement policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			list, err := e.policies.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENABLED\tCREATED")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%t\t%s\n", p.ID, p.Enabled, p.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	var disabled bool
	add := &cobra.Command{
		Use:   "add [file.rego]",
		Short: "Validate and store a settlement policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := policy.Validate(string(rules)); err != nil {
				return err
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			p, err := e.policies.Create(cmd.Context(), *actor, string(rules), !disabled)
			if err != nil {
				return err
			}
			fmt.Printf("policy %s stored (enabled=%t)\n", p.ID, p.Enabled)
			return nil
		},
	}
	add.Flags().BoolVar(&disabled, "disabled", false, "Store without enabling")
	cmd.AddCommand(add)

	for _, enabled := range []bool{true, false} {
		use := "disable [id]"
		if enabled {
			use = "enable [id]"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: "Toggle whether a stored policy is evaluated",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := openEnv()
				if err != nil {
					return err
				}
				defer e.Close()
				p, err := e.policies.SetEnabled(cmd.Context(), *actor, args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Printf("policy %s enabled=%t\n", p.ID, p.Enabled)
				return nil
			},
		})
	}
	return cmd
}
