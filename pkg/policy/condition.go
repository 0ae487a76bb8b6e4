package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/veritas-run/core/pkg/contracts"
)

// conditionEvaluator compiles and caches CEL programs for each rule's
// optional "condition" expression. A rule without a condition always
// passes this check without touching CEL at all.
type conditionEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	logger   *slog.Logger
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("current_phase", cel.StringType),
		cel.Variable("metadata", cel.DynType),
	)
	if err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("building condition evaluator: %v", err)}
	}
	return &conditionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
		logger:   slog.Default().With("component", "policy.condition"),
	}, nil
}

// evaluate compiles (or reuses a cached compilation of) expr and runs it
// against ctx. Any compile or evaluation error is treated as "does not
// match" — a broken condition never silently grants a rule it guards.
func (c *conditionEvaluator) evaluate(ruleID, expr string, ctx contracts.PolicyContext) bool {
	prg, err := c.programFor(ruleID, expr)
	if err != nil {
		c.logger.Warn("condition compile failed, treating as non-match", "rule", ruleID, "error", err)
		return false
	}

	out, _, err := prg.Eval(map[string]any{
		"action":        ctx.Action,
		"resource":      ctx.Resource,
		"agent_id":      ctx.AgentId,
		"current_phase": ctx.CurrentPhase,
		"metadata":      ctx.Metadata,
	})
	if err != nil {
		c.logger.Warn("condition evaluation failed, treating as non-match", "rule", ruleID, "error", err)
		return false
	}

	result, ok := out.Value().(bool)
	return ok && result
}

func (c *conditionEvaluator) programFor(ruleID, expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[ruleID]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.programs[ruleID] = prg
	c.mu.Unlock()
	return prg, nil
}
