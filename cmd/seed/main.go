// seed provisions demo accounts for local testing and prints dev access tokens.
// Idempotent: accounts whose principal already exists are left untouched.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit"
	"custodial-ledger/backend/internal/challenge"
	"custodial-ledger/backend/internal/config"
	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/logging"
	"custodial-ledger/backend/internal/policy"
	"custodial-ledger/backend/internal/security"
	"custodial-ledger/backend/internal/store"
)

// demoSettlementPolicy auto-settles internal transfers up to 500.00 regardless of AUTO_SETTLE_LIMIT.
const demoSettlementPolicy = `package ledger.settlement

default require_approval := true

require_approval := false if {
	input.transfer.internal
	input.transfer.amount <= 500
}
`

const (
	seedActor    = "seed"
	adminSubject = "ops-admin"
)

type demoAccount struct {
	principal   string
	destination string
	tiered      bool
	deposit     string
}

var demoAccounts = []demoAccount{
	{principal: "demo-alice", destination: "+15550000001", tiered: true, deposit: "5000.00"},
	{principal: "demo-bob", destination: "bob@example.com", tiered: false, deposit: "1200.00"},
	{principal: "demo-carol", destination: "+15550000003", tiered: false, deposit: "0"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := store.NewPostgres(conn)
	auditLogger := audit.NewLogger(st.Repos().Audit, nil, logger)
	accounts := ledger.NewService(st, lock.NewLocal(), challenge.NewStore(cfg.ChallengeMaxDevices, cfg.DeviceTTL(), nil), auditLogger, logger)

	for _, d := range demoAccounts {
		if err := seedAccount(ctx, st, accounts, d); err != nil {
			log.Fatalf("seed %s: %v", d.principal, err)
		}
	}
	if err := seedPolicy(ctx, policy.NewService(st.Repos().Policies, auditLogger, logger)); err != nil {
		log.Fatalf("seed policy: %v", err)
	}

	printTokens(cfg, logger)
}

func seedAccount(ctx context.Context, st store.Store, accounts *ledger.Service, d demoAccount) error {
	existing, err := st.Repos().Accounts.GetByPrincipal(ctx, d.principal)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Printf("account %s exists (%s), skipping\n", d.principal, existing.AccountNumber)
		return nil
	}
	a, err := accounts.Provision(ctx, seedActor, ledger.ProvisionInput{
		PrincipalID:   d.principal,
		Destination:   d.destination,
		TieredEnabled: d.tiered,
	})
	if err != nil {
		return err
	}
	amount := decimal.RequireFromString(d.deposit)
	if amount.IsPositive() {
		if _, _, err := accounts.Deposit(ctx, seedActor, a.ID, ledger.DepositInput{
			Amount:    amount,
			BankName:  "Seed Bank",
			Method:    "wire",
			Reference: "SEED-" + d.principal,
			Note:      "initial demo balance",
		}); err != nil {
			return err
		}
	}
	fmt.Printf("account %s provisioned: id=%s number=%s tiered=%t balance=%s\n",
		d.principal, a.ID, a.AccountNumber, d.tiered, amount.StringFixed(2))
	return nil
}

func seedPolicy(ctx context.Context, svc *policy.Service) error {
	existing, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		fmt.Println("settlement policy exists, skipping")
		return nil
	}
	p, err := svc.Create(ctx, seedActor, demoSettlementPolicy, true)
	if err != nil {
		return err
	}
	fmt.Printf("settlement policy %s enabled\n", p.ID)
	return nil
}

func printTokens(cfg *config.Config, logger *zap.Logger) {
	tokens, err := security.LoadTokenProvider(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		logger.Warn("seed: cannot mint tokens", zap.Error(err))
		return
	}
	subjects := []struct{ id, role string }{{adminSubject, security.RoleAdmin}}
	for _, d := range demoAccounts {
		subjects = append(subjects, struct{ id, role string }{d.principal, security.RoleCustomer})
	}
	fmt.Println()
	for _, s := range subjects {
		token, exp, err := tokens.IssueAccess(s.id, s.role)
		if err != nil {
			logger.Warn("seed: mint token failed (JWT_PRIVATE_KEY unset?)", zap.String("principal", s.id), zap.Error(err))
			return
		}
		fmt.Printf("%s (%s, expires %s):\n%s\n\n", s.id, s.role, exp.Format(time.RFC3339), token)
	}
}
