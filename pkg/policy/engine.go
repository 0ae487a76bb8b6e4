package policy

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/veritas-run/core/pkg/contracts"
)

// Engine is a contracts.PolicyEngine backed by a TOML rule file. Rules
// are scanned in file order; the first rule whose action/resource (and,
// if present, condition) match wins. A matching rule whose verdict would
// otherwise be Allow, RequireApproval, or RequireVerification is
// overridden to Deny if any of its required capabilities is absent from
// the PolicyContext. No matching rule denies by default.
type Engine struct {
	config    Config
	condition *conditionEvaluator
	logger    *slog.Logger
}

// FromTOMLString parses s as a policy rule document.
func FromTOMLString(s string) (*Engine, error) {
	var cfg Config
	if _, err := toml.Decode(s, &cfg); err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("parsing policy TOML: %v", err)}
	}
	cond, err := newConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{config: cfg, condition: cond, logger: slog.Default().With("component", "policy")}, nil
}

// FromFile reads and parses path as a policy rule document.
func FromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("reading policy file %s: %v", path, err)}
	}
	return FromTOMLString(string(data))
}

// Evaluate implements contracts.PolicyEngine.
func (e *Engine) Evaluate(ctx contracts.PolicyContext) (contracts.PolicyVerdict, error) {
	held := make(map[string]struct{}, len(ctx.Capabilities))
	for _, c := range ctx.Capabilities {
		held[c] = struct{}{}
	}

	for _, rule := range e.config.Rules {
		if !rule.matches(ctx.Action, ctx.Resource) {
			continue
		}
		if rule.Condition != "" && !e.condition.evaluate(rule.ID, rule.Condition, ctx) {
			continue
		}

		for _, cap := range rule.RequiredCapabilities {
			if _, ok := held[cap]; !ok {
				reason := fmt.Sprintf("rule '%s' requires capability '%s' which is not granted to agent '%s'", rule.ID, cap, ctx.AgentId)
				e.logger.Warn("policy denied: missing capability", "rule", rule.ID, "capability", cap)
				return contracts.DenyVerdict{Reason: reason}, nil
			}
		}

		return e.verdictFor(rule), nil
	}

	reason := fmt.Sprintf("denied by default: no policy rule matched action '%s' on resource '%s'", ctx.Action, ctx.Resource)
	e.logger.Debug("policy denied by default", "action", ctx.Action, "resource", ctx.Resource)
	return contracts.DenyVerdict{Reason: reason}, nil
}

func (e *Engine) verdictFor(rule Rule) contracts.PolicyVerdict {
	switch rule.Verdict {
	case VerdictAllow:
		return contracts.AllowVerdict{}

	case VerdictDeny:
		reason := rule.DenyReason
		if reason == "" {
			reason = fmt.Sprintf("denied by rule '%s'", rule.ID)
		}
		return contracts.DenyVerdict{Reason: reason}

	case VerdictRequireApproval:
		reason := rule.ApprovalReason
		if reason == "" {
			reason = fmt.Sprintf("approval required by rule '%s'", rule.ID)
		}
		role := rule.ApproverRole
		if role == "" {
			role = "unspecified"
		}
		return contracts.RequireApprovalVerdict{Reason: reason, ApproverRole: role}

	case VerdictRequireVerification:
		checkID := rule.VerificationCheckID
		if checkID == "" {
			checkID = fmt.Sprintf("check-%s", rule.ID)
		}
		return contracts.RequireVerificationVerdict{CheckID: checkID}

	default:
		return contracts.DenyVerdict{Reason: fmt.Sprintf("rule '%s' has unknown verdict '%s'", rule.ID, rule.Verdict)}
	}
}

var _ contracts.PolicyEngine = (*Engine)(nil)
