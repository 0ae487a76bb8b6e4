package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PolicyContext carries everything the policy engine needs to evaluate
// one step, computed before Agent.Propose is ever called.
type PolicyContext struct {
	AgentId      string   `json:"agent_id"`
	ExecutionId  string   `json:"execution_id"`
	CurrentPhase string   `json:"current_phase"`
	Action       string   `json:"action"`
	Resource     string   `json:"resource"`
	Capabilities []string `json:"capabilities"`
	Metadata     any      `json:"metadata"`
}

// PolicyVerdict is a closed sum type: exactly one of AllowVerdict,
// DenyVerdict, RequireApprovalVerdict, RequireVerificationVerdict. The
// unexported marker method keeps the set closed to this package, so the
// executor's verdict switch is exhaustive by construction.
type PolicyVerdict interface {
	sealedPolicyVerdict()
	verdictKind() string
}

// AllowVerdict permits the step to proceed to the capability check and
// Propose unconditionally.
type AllowVerdict struct{}

func (AllowVerdict) sealedPolicyVerdict() {}
func (AllowVerdict) verdictKind() string  { return "allow" }

// DenyVerdict blocks the step. Reason is recorded in the audit log and
// surfaced to the caller.
type DenyVerdict struct {
	Reason string `json:"reason"`
}

func (DenyVerdict) sealedPolicyVerdict() {}
func (DenyVerdict) verdictKind() string  { return "deny" }

// RequireApprovalVerdict suspends the step pending out-of-band approval
// from a human with ApproverRole. Execution halts; the executor never
// calls Propose.
type RequireApprovalVerdict struct {
	Reason       string `json:"reason"`
	ApproverRole string `json:"approver_role"`
}

func (RequireApprovalVerdict) sealedPolicyVerdict() {}
func (RequireApprovalVerdict) verdictKind() string  { return "require-approval" }

// RequireVerificationVerdict permits the step to proceed like Allow, but
// names a CheckID a host may use for its own downstream selection logic.
// The executor itself treats this identically to Allow.
type RequireVerificationVerdict struct {
	CheckID string `json:"check_id"`
}

func (RequireVerificationVerdict) sealedPolicyVerdict() {}
func (RequireVerificationVerdict) verdictKind() string  { return "require-verification" }

// MarshalPolicyVerdict encodes v as a JSON object carrying a "kind"
// discriminator alongside its fields, so DecodePolicyVerdict can recover
// the concrete type on the way back out of storage. StepRecord uses this
// for its Verdict field; nothing else in the core needs to serialize a
// PolicyVerdict. '<', '>' and '&' in its fields are written unescaped.
func MarshalPolicyVerdict(v PolicyVerdict) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		return nil, err
	}
	m["kind"] = json.RawMessage(fmt.Sprintf("%q", v.verdictKind()))
	buf.Reset()
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// DecodePolicyVerdict is the inverse of MarshalPolicyVerdict.
func DecodePolicyVerdict(data []byte) (PolicyVerdict, error) {
	var tagged struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, err
	}
	switch tagged.Kind {
	case "allow":
		return AllowVerdict{}, nil
	case "deny":
		var v DenyVerdict
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "require-approval":
		var v RequireApprovalVerdict
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "require-verification":
		var v RequireVerificationVerdict
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown policy verdict kind %q", tagged.Kind)
	}
}

// PolicyEngine evaluates one PolicyContext into exactly one PolicyVerdict.
// Implementations must be deterministic: the same context, evaluated
// twice against the same rule set, must produce the same verdict.
type PolicyEngine interface {
	Evaluate(ctx PolicyContext) (PolicyVerdict, error)
}
