// Package policy implements the deny-by-default, first-match-wins policy
// evaluator driven by a TOML rule file, with an optional CEL condition
// expression per rule.
package policy

// Verdict is the TOML-level rule outcome, read verbatim from the
// "verdict" key of a [[rules]] table before being mapped to a
// contracts.PolicyVerdict during evaluation.
type Verdict string

const (
	VerdictAllow               Verdict = "allow"
	VerdictDeny                Verdict = "deny"
	VerdictRequireApproval     Verdict = "require-approval"
	VerdictRequireVerification Verdict = "require-verification"
)

// Rule is the TOML wire shape of one [[rules]] table.
type Rule struct {
	ID                   string   `toml:"id"`
	Description          string   `toml:"description"`
	Action               string   `toml:"action"`
	Resource             string   `toml:"resource"`
	RequiredCapabilities []string `toml:"required_capabilities"`
	Verdict              Verdict  `toml:"verdict"`
	DenyReason           string   `toml:"deny_reason"`
	ApprovalReason       string   `toml:"approval_reason"`
	ApproverRole         string   `toml:"approver_role"`
	VerificationCheckID  string   `toml:"verification_check_id"`
	Condition            string   `toml:"condition"`
}

// matches reports whether action and resource satisfy the rule's
// wildcard-or-exact patterns. Condition is evaluated separately by the
// engine, since it requires the full PolicyContext, not just these two
// strings.
func (r Rule) matches(action, resource string) bool {
	return (r.Action == "*" || r.Action == action) && (r.Resource == "*" || r.Resource == resource)
}

// Config is the top-level TOML document: a flat, ordered list of rules.
// Order matters — the engine scans rules in this order and stops at the
// first match.
type Config struct {
	Rules []Rule `toml:"rules"`
}
