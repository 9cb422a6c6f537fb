package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/policy/repository"
)

const settlementQuery = "data.ledger.settlement.require_approval"

// Default Rego policy: approval is required unless the transfer is internal and within the
// platform auto-settle limit.
const defaultRegoPolicy = `package ledger.settlement

default require_approval := true

require_approval := false if {
	input.transfer.internal
	input.platform.auto_settle_limit > 0
	input.transfer.amount <= input.platform.auto_settle_limit
}
`

// OPAEvaluator evaluates settlement policies using OPA Rego. Enabled policies from the repository
// replace the default module. Any failure requires approval.
type OPAEvaluator struct {
	policyRepo      repository.Repository
	autoSettleLimit decimal.Decimal
	log             *zap.Logger
}

// NewOPAEvaluator returns an OPA-based settlement evaluator. policyRepo may be nil, in which case
// only the default policy is used. A zero autoSettleLimit never auto-settles under the default policy.
func NewOPAEvaluator(policyRepo repository.Repository, autoSettleLimit decimal.Decimal, log *zap.Logger) *OPAEvaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &OPAEvaluator{policyRepo: policyRepo, autoSettleLimit: autoSettleLimit, log: log}
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
// Does not call the policy repo or database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": defaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	_, err = evalRequireApproval(ctx, compiler, e.buildInput(SettlementInput{Amount: decimal.NewFromInt(1)}))
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	return nil
}

// EvaluateSettlement evaluates the settlement policy for in. Errors are logged and reported as
// RequireApproval=true with a nil error.
func (e *OPAEvaluator) EvaluateSettlement(ctx context.Context, in SettlementInput) (SettlementResult, error) {
	var policies []string
	if e.policyRepo != nil {
		enabled, err := e.policyRepo.GetEnabled(ctx)
		if err != nil {
			e.log.Warn("policy: failed to load settlement policies", zap.Error(err))
			return SettlementResult{RequireApproval: true}, nil
		}
		for _, p := range enabled {
			if p.Enabled && p.Rules != "" {
				policies = append(policies, p.Rules)
			}
		}
	}
	if len(policies) == 0 {
		policies = []string{defaultRegoPolicy}
	}

	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		e.log.Warn("policy: compile settlement policies failed, requiring approval", zap.Error(err))
		return SettlementResult{RequireApproval: true}, nil
	}
	require, err := evalRequireApproval(ctx, compiler, e.buildInput(in))
	if err != nil {
		e.log.Warn("policy: settlement evaluation failed, requiring approval",
			zap.String("transfer_id", in.TransferID), zap.Error(err))
		return SettlementResult{RequireApproval: true}, nil
	}
	return SettlementResult{RequireApproval: require}, nil
}

func (e *OPAEvaluator) buildInput(in SettlementInput) map[string]interface{} {
	return map[string]interface{}{
		"platform": map[string]interface{}{
			"auto_settle_limit": e.autoSettleLimit.InexactFloat64(),
		},
		"transfer": map[string]interface{}{
			"id":                in.TransferID,
			"sender_account_id": in.SenderAccountID,
			"amount":            in.Amount.InexactFloat64(),
			"internal":          in.Internal,
			"flow":              in.Flow,
		},
	}
}

func evalRequireApproval(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}) (bool, error) {
	q := rego.New(
		rego.Query(settlementQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return true, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return true, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return true, fmt.Errorf("require_approval is %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}
