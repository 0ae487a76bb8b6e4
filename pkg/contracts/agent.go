// Package contracts defines the data types and error taxonomy shared by the
// executor, policy, audit, and verify subsystems. Nothing in this package
// depends on the others, so any of them can be swapped for an alternative
// implementation without touching the wire types.
package contracts

import (
	"github.com/google/uuid"
)

// AgentId names the agent instance participating in an execution.
type AgentId string

// ExecutionId uniquely identifies one run of the step pipeline.
type ExecutionId struct {
	id uuid.UUID
}

// NewExecutionId generates a fresh, random ExecutionId.
func NewExecutionId() ExecutionId {
	return ExecutionId{id: uuid.New()}
}

// ParseExecutionId parses an ExecutionId from its string form.
func ParseExecutionId(s string) (ExecutionId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ExecutionId{}, &ConfigError{Reason: "invalid execution id: " + err.Error()}
	}
	return ExecutionId{id: id}, nil
}

// String returns the canonical UUID string representation.
func (e ExecutionId) String() string {
	return e.id.String()
}

// AgentState is the immutable record of where an execution stands between
// steps. Agents never mutate a state in place; transition() returns a new
// value.
type AgentState struct {
	AgentId     AgentId     `json:"agent_id"`
	ExecutionId ExecutionId `json:"execution_id"`
	Phase       string      `json:"phase"`
	Context     any         `json:"context"`
	Step        uint64      `json:"step"`
}

// AgentInput is the host-supplied payload for one step.
type AgentInput struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// AgentOutput is what an agent proposes for a step, subject to output
// verification before it is ever used to compute the next state.
type AgentOutput struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Agent is the contract every governed agent implementation satisfies.
// Propose is the only method that produces new, ungoverned content; the
// executor calls it from exactly one place, after policy and capability
// checks have already passed for the current step.
type Agent interface {
	// Propose computes the next output for the given state and input.
	// The executor never calls this before policy has returned Allow or
	// RequireVerification and every required capability is held.
	Propose(state AgentState, input AgentInput) (AgentOutput, error)

	// Transition computes the next state from the current state and a
	// verified output. Implementations must increment state.Step by
	// exactly one.
	Transition(state AgentState, output AgentOutput) (AgentState, error)

	// RequiredCapabilities lists the capabilities this step needs,
	// given the state and input, before Propose may be called.
	RequiredCapabilities(state AgentState, input AgentInput) []Capability

	// DescribeAction reports the (action, resource) pair the policy
	// engine evaluates for this step, without performing the action.
	DescribeAction(state AgentState, input AgentInput) (action, resource string)

	// IsTerminal reports whether state is a final state for this
	// execution; once true, the executor finalizes the audit log.
	IsTerminal(state AgentState) bool
}
