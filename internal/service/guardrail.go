package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
)

// Verdict is the guardrail answer for a draft decision.
type Verdict struct {
	AutoApprove bool     `json:"auto_approve"`
	Reasons     []string `json:"reasons,omitempty"`
}

// GuardrailService decides whether a draft decision may be approved without
// a human. It never mutates the decision.
//
// Custom rules are CEL expressions over four variables:
//
//	decision  selected_branch_id, aggregate, confidence, threshold, round, mode
//	branch    id, high_impact, irreversible, expected_metrics
//	tree      id, topic, category, annotations
//	scores    list of {agent_id, role, composite, uncertainty} on the selected branch
//
// A rule that evaluates to true gates the decision.
type GuardrailService struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewGuardrailService creates the CEL environment for custom rules.
func NewGuardrailService() (*GuardrailService, error) {
	env, err := cel.NewEnv(
		cel.Variable("decision", cel.DynType),
		cel.Variable("branch", cel.DynType),
		cel.Variable("tree", cel.DynType),
		cel.Variable("scores", cel.ListType(cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create guardrail environment: %w", err)
	}
	return &GuardrailService{env: env, programs: make(map[string]cel.Program)}, nil
}

// CheckRules compiles every custom rule of p. A rule that fails to compile
// is a policy validation error.
func (g *GuardrailService) CheckRules(p *policy.Policy) error {
	for _, r := range p.Guardrail.Rules {
		if _, err := g.program(r.Expr); err != nil {
			return fmt.Errorf("policy %s: guardrail rule %s: %w: %w", p.Name, r.Name, err, domain.ErrValidation)
		}
	}
	return nil
}

// Evaluate checks d against the guardrails of p. scores are the on-time
// scores of the round d was aggregated from.
func (g *GuardrailService) Evaluate(_ context.Context, d *decision.GovernanceDecision, t *tree.DecisionTree, scores []score.DecisionScore, p *policy.Policy) Verdict {
	var reasons []string

	if d.Confidence < p.Guardrail.ConfidenceFloor {
		reasons = append(reasons, fmt.Sprintf("confidence %.3f below floor %.3f", d.Confidence, p.Guardrail.ConfidenceFloor))
	}

	b, ok := t.Branch(d.SelectedBranchID)
	if !ok {
		reasons = append(reasons, fmt.Sprintf("selected branch %q is not in tree %s", d.SelectedBranchID, t.ID))
	}
	if b.HighImpact {
		reasons = append(reasons, fmt.Sprintf("branch %s is high impact", b.ID))
	}
	if b.Irreversible {
		reasons = append(reasons, fmt.Sprintf("branch %s is irreversible", b.ID))
	}

	var selected []score.DecisionScore
	for _, s := range scores {
		if s.BranchID == d.SelectedBranchID && !s.Late {
			selected = append(selected, s)
		}
	}

	if len(p.VetoRoles) > 0 {
		ceiling := p.VetoFloor + p.Guardrail.NearMissMargin
		for _, s := range selected {
			if !p.IsVetoRole(s.Role) {
				continue
			}
			c, err := s.Composite()
			if err != nil {
				continue
			}
			if c >= p.VetoFloor && c <= ceiling {
				reasons = append(reasons, fmt.Sprintf("near-miss veto: %s (%s) scored %.3f, floor %.3f", s.AgentID, s.Role, c, p.VetoFloor))
			}
		}
	}

	if p.IsHumanGated(t.Category) {
		reasons = append(reasons, fmt.Sprintf("category %s requires human review", t.Category))
	}

	if len(p.Guardrail.Rules) > 0 {
		vars := ruleVars(d, b, t, selected)
		for _, r := range p.Guardrail.Rules {
			hit, err := g.eval(r.Expr, vars)
			if err != nil {
				slog.Warn("guardrail rule failed, gating decision", "rule", r.Name, "decision_id", d.ID, "error", err)
				reasons = append(reasons, fmt.Sprintf("rule %s failed: %v", r.Name, err))
				continue
			}
			if hit {
				reasons = append(reasons, "rule "+r.Name)
			}
		}
	}

	return Verdict{AutoApprove: len(reasons) == 0, Reasons: reasons}
}

func (g *GuardrailService) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.programs[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if k := ast.OutputType().Kind(); k != types.BoolKind && k != types.DynKind {
		return nil, fmt.Errorf("expression yields %s, want bool", ast.OutputType())
	}
	prg, err := g.env.Program(ast, cel.CostLimit(10000), cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	g.mu.Lock()
	g.programs[expr] = prg
	g.mu.Unlock()
	return prg, nil
}

func (g *GuardrailService) eval(expr string, vars map[string]any) (bool, error) {
	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result is %T, want bool", out.Value())
	}
	return v, nil
}

func ruleVars(d *decision.GovernanceDecision, b tree.Branch, t *tree.DecisionTree, selected []score.DecisionScore) map[string]any {
	scores := make([]any, 0, len(selected))
	for _, s := range selected {
		c, _ := s.Composite()
		scores = append(scores, map[string]any{
			"agent_id":    s.AgentID,
			"role":        s.Role,
			"composite":   c,
			"uncertainty": s.Uncertainty,
		})
	}
	metrics := make(map[string]any, len(b.ExpectedMetrics))
	for k, v := range b.ExpectedMetrics {
		metrics[k] = v
	}
	annotations := make(map[string]any, len(t.Annotations))
	for k, v := range t.Annotations {
		annotations[k] = v
	}
	return map[string]any{
		"decision": map[string]any{
			"id":                 d.ID,
			"selected_branch_id": d.SelectedBranchID,
			"aggregate":          d.AggregateScore,
			"confidence":         d.Confidence,
			"threshold":          d.Threshold,
			"round":              int64(d.Round),
			"mode":               string(d.ConsensusMode),
		},
		"branch": map[string]any{
			"id":               b.ID,
			"high_impact":      b.HighImpact,
			"irreversible":     b.Irreversible,
			"expected_metrics": metrics,
		},
		"tree": map[string]any{
			"id":          t.ID,
			"topic":       t.Topic,
			"category":    t.Category,
			"annotations": annotations,
		},
		"scores": scores,
	}
}
