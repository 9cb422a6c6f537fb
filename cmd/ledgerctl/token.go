package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"custodial-ledger/backend/internal/config"
	"custodial-ledger/backend/internal/security"
)

func tokenCmd() *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "token [principal]",
		Short: "Mint a development access token (requires JWT_PRIVATE_KEY)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens, err := security.LoadTokenProvider(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
			if err != nil {
				return err
			}
			role := security.RoleCustomer
			if admin {
				role = security.RoleAdmin
			}
			token, _, err := tokens.IssueAccess(args[0], role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Mint an admin token")
	return cmd
}
