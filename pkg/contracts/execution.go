package contracts

import (
	"bytes"
	"encoding/json"
	"time"
)

// StepRecord is the unit of audit: one StepRecord is written per step,
// whether the step was denied, suspended, or completed. Output is nil
// exactly when Verdict is a DenyVerdict or RequireApprovalVerdict.
type StepRecord struct {
	Step      uint64        `json:"step"`
	Input     AgentInput    `json:"input"`
	Verdict   PolicyVerdict `json:"verdict"`
	Output    *AgentOutput  `json:"output,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// stepRecordWire is StepRecord's on-the-wire shape: identical except
// Verdict is a tagged JSON object (see MarshalPolicyVerdict) rather than
// an interface, which encoding/json cannot round-trip on its own.
type stepRecordWire struct {
	Step      uint64          `json:"step"`
	Input     AgentInput      `json:"input"`
	Verdict   json.RawMessage `json:"verdict"`
	Output    *AgentOutput    `json:"output,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler so canonical JSON hashing (and
// any persistent AuditWriter) sees a stable, self-describing Verdict
// field instead of a bare interface value. '<', '>' and '&' are written
// unescaped; an outer encoder with HTML escaping enabled escapes them
// again.
func (r StepRecord) MarshalJSON() ([]byte, error) {
	verdict, err := MarshalPolicyVerdict(r.Verdict)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stepRecordWire{
		Step:      r.Step,
		Input:     r.Input,
		Verdict:   verdict,
		Output:    r.Output,
		Timestamp: r.Timestamp,
	}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalJSON is the inverse of MarshalJSON, used by persistent
// AuditWriter backends reading a StepRecord back out of storage.
func (r *StepRecord) UnmarshalJSON(data []byte) error {
	var wire stepRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	verdict, err := DecodePolicyVerdict(wire.Verdict)
	if err != nil {
		return err
	}
	r.Step = wire.Step
	r.Input = wire.Input
	r.Verdict = verdict
	r.Output = wire.Output
	r.Timestamp = wire.Timestamp
	return nil
}

// StepResult is a closed sum type over the four outcomes one call to
// Executor.Step can produce.
type StepResult interface {
	sealedStepResult()
}

// Transitioned is returned when the step completed but the resulting
// state is not terminal.
type Transitioned struct {
	NextState AgentState
	Output    AgentOutput
}

func (Transitioned) sealedStepResult() {}

// Denied is returned when policy evaluation denied the step. State is
// unchanged from the input state.
type Denied struct {
	Reason     string
	FinalState AgentState
}

func (Denied) sealedStepResult() {}

// AwaitingApproval is returned when policy evaluation suspended the step
// pending approval from ApproverRole. State is unchanged.
type AwaitingApproval struct {
	Reason         string
	ApproverRole   string
	SuspendedState AgentState
}

func (AwaitingApproval) sealedStepResult() {}

// Complete is returned when the step completed and the resulting state
// is terminal; the audit log has been finalized.
type Complete struct {
	FinalState AgentState
	Output     AgentOutput
}

func (Complete) sealedStepResult() {}
